package polling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kendall-kelly/atelier-market-api/metrics"
	"go.uber.org/zap"
)

// Config controls how a Poller adapts its interval
type Config struct {
	InitialInterval       time.Duration
	MinInterval           time.Duration
	MaxInterval           time.Duration
	BackoffMultiplier     float64
	MaxFailedAttempts     int
	CircuitBreakerTimeout time.Duration
	PauseWhenInactive     bool
}

// DefaultConfig returns the settings used when a field is left zero
func DefaultConfig() Config {
	return Config{
		InitialInterval:       30 * time.Second,
		MinInterval:           10 * time.Second,
		MaxInterval:           5 * time.Minute,
		BackoffMultiplier:     1.5,
		MaxFailedAttempts:     3,
		CircuitBreakerTimeout: time.Minute,
		PauseWhenInactive:     true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinInterval <= 0 {
		c.MinInterval = d.MinInterval
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = max(d.MaxInterval, c.MinInterval)
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = c.MinInterval
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.MaxFailedAttempts <= 0 {
		c.MaxFailedAttempts = d.MaxFailedAttempts
	}
	if c.CircuitBreakerTimeout <= 0 {
		c.CircuitBreakerTimeout = d.CircuitBreakerTimeout
	}
	return c
}

// FetchFunc loads the polled resource. Results are compared by their JSON
// encoding to detect change.
type FetchFunc func(ctx context.Context) (any, error)

// State is a snapshot of a Poller
type State struct {
	Interval       time.Duration `json:"interval"`
	FailedAttempts int           `json:"failed_attempts"`
	CircuitBroken  bool          `json:"circuit_broken"`
	Paused         bool          `json:"paused"`
	LastSuccess    time.Time     `json:"last_success"`
	LastError      string        `json:"last_error,omitempty"`
}

// Poller refetches a resource, polling fast while it changes and backing off
// while it does not
type Poller struct {
	name   string
	cfg    Config
	fetch  FetchFunc
	logger *zap.Logger
	wake   chan struct{}

	mu            sync.Mutex
	interval      time.Duration
	failed        int
	circuitBroken bool
	openedAt      time.Time
	paused        bool
	lastPayload   string
	hasPayload    bool
	lastSuccess   time.Time
	lastError     string
}

// New creates a poller. Zero config fields take DefaultConfig values.
func New(name string, cfg Config, fetch FetchFunc, logger *zap.Logger) *Poller {
	cfg = cfg.withDefaults()
	return &Poller{
		name:     name,
		cfg:      cfg,
		fetch:    fetch,
		logger:   logger.Named("poller").With(zap.String("poller", name)),
		wake:     make(chan struct{}, 1),
		interval: cfg.InitialInterval,
	}
}

// Poll fetches once, updates the schedule and returns the delay before the
// next poll
func (p *Poller) Poll(ctx context.Context) time.Duration {
	payload, err := p.fetch(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.failed++
		p.lastError = err.Error()
		if p.circuitBroken {
			p.openedAt = time.Now()
		}
		if p.failed >= p.cfg.MaxFailedAttempts && !p.circuitBroken {
			p.circuitBroken = true
			p.openedAt = time.Now()
			metrics.PollerCircuitOpen.WithLabelValues(p.name).Set(1)
			p.logger.Warn("Poller circuit opened",
				zap.Int("failed_attempts", p.failed),
				zap.Duration("retry_in", p.cfg.CircuitBreakerTimeout),
				zap.Error(err))
		} else {
			p.logger.Debug("Poll failed", zap.Int("failed_attempts", p.failed), zap.Error(err))
		}
		return p.nextDelayLocked()
	}

	if p.circuitBroken {
		p.logger.Info("Poller circuit closed")
		metrics.PollerCircuitOpen.WithLabelValues(p.name).Set(0)
	}
	p.failed = 0
	p.circuitBroken = false
	p.lastError = ""
	p.lastSuccess = time.Now()

	encoded := encodePayload(payload)
	if !p.hasPayload || encoded != p.lastPayload {
		p.interval = p.cfg.MinInterval
	} else {
		next := time.Duration(float64(p.interval) * p.cfg.BackoffMultiplier)
		p.interval = min(next, p.cfg.MaxInterval)
	}
	p.lastPayload = encoded
	p.hasPayload = true

	return p.nextDelayLocked()
}

// Run polls until ctx is cancelled. The first poll happens immediately.
// Activate wakes it early, except while the circuit breaker is open.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Poller started", zap.Duration("initial_interval", p.cfg.InitialInterval))
	defer p.logger.Info("Poller stopped")

	for {
		for p.isPaused() {
			select {
			case <-ctx.Done():
				return
			case <-p.wake:
			}
		}
		if ctx.Err() != nil {
			return
		}
		if wait := p.cooldownRemaining(); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			case <-p.wake:
				timer.Stop()
			}
			continue
		}

		delay := p.Poll(ctx)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-p.wake:
			timer.Stop()
		}
	}
}

// Deactivate pauses polling when the poller is configured to pause while
// inactive
func (p *Poller) Deactivate() {
	if !p.cfg.PauseWhenInactive {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		p.logger.Debug("Poller paused")
	}
	p.paused = true
}

// Activate resumes polling and triggers an immediate refetch
func (p *Poller) Activate() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// State returns a snapshot of the poller
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		Interval:       p.interval,
		FailedAttempts: p.failed,
		CircuitBroken:  p.circuitBroken,
		Paused:         p.paused,
		LastSuccess:    p.lastSuccess,
		LastError:      p.lastError,
	}
}

func (p *Poller) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// cooldownRemaining is how long an open breaker still blocks refetching
func (p *Poller) cooldownRemaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.circuitBroken {
		return 0
	}
	return p.cfg.CircuitBreakerTimeout - time.Since(p.openedAt)
}

func (p *Poller) nextDelayLocked() time.Duration {
	delay := p.interval
	if p.circuitBroken {
		delay = p.cfg.CircuitBreakerTimeout
	}
	metrics.PollerIntervalSeconds.WithLabelValues(p.name).Set(delay.Seconds())
	return delay
}

func encodePayload(payload any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%#v", payload)
	}
	return string(raw)
}
