package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kendall-kelly/atelier-market-api/metrics"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 30 * time.Second
	publishTimeout      = 5 * time.Second
	storeTimeout        = 5 * time.Second
)

// Principal is the verified identity behind a socket connection
type Principal struct {
	UserID  string
	IsAdmin bool
}

// MessageStore persists chat messages sent over a ticket channel. The
// returned value is broadcast as the chat_message payload.
type MessageStore interface {
	SaveMessage(ctx context.Context, ticketID, senderID string, data json.RawMessage) (any, error)
}

// Stats is a point-in-time count of hub registrations
type Stats struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
	Tickets     int `json:"tickets"`
}

// Option configures a Hub
type Option func(*Hub)

// WithMessageStore persists inbound chat messages before broadcasting them
func WithMessageStore(store MessageStore) Option {
	return func(h *Hub) { h.store = store }
}

// WithBackplane shares deliveries with other instances
func WithBackplane(b Backplane) Option {
	return func(h *Hub) { h.backplane = b }
}

// WithPingInterval overrides the keepalive ping period
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithPresence is called with true when the first client registers and with
// false when the last one leaves
func WithPresence(fn func(active bool)) Option {
	return func(h *Hub) { h.presence = fn }
}

// WithCheckOrigin sets the websocket origin policy
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = check }
}

// Hub tracks live socket connections by user and ticket and fans events out
// to them. Each Hub is an isolated registry.
type Hub struct {
	id     string
	logger *zap.Logger

	mu                  sync.RWMutex
	clientsByUser       map[string]map[*client]struct{}
	subscribersByTicket map[string]map[string]struct{}

	store        MessageStore
	backplane    Backplane
	presence     func(active bool)
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	now          func() time.Time
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		id:                  uuid.NewString(),
		logger:              logger.Named("realtime"),
		clientsByUser:       make(map[string]map[*client]struct{}),
		subscribersByTicket: make(map[string]map[string]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pingInterval: defaultPingInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeWS upgrades the request and serves the connection for the principal
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, p Principal) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := newClient(h, conn, p)
	metrics.SocketConnections.Inc()
	h.logger.Debug("Socket connected", zap.String("user_id", p.UserID), zap.Bool("admin", p.IsAdmin))

	go c.writePump()
	go c.readPump()
	return nil
}

// Run consumes the backplane until ctx is cancelled. Without a backplane it
// just waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.backplane == nil {
		<-ctx.Done()
		return nil
	}
	err := h.backplane.Subscribe(ctx, func(d Delivery) {
		if d.Origin == h.id {
			return
		}
		h.deliverLocal(d)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// NotifyUser pushes a notification to every connection of a user
func (h *Hub) NotifyUser(userID string, data any) {
	h.send(TargetUser, userID, TypeNotification, userID, "", data)
}

// NotifyAdmins pushes an admin_notification to every admin connection
func (h *Hub) NotifyAdmins(data any) {
	h.send(TargetAdmins, "", TypeAdminNotification, "", "", data)
}

// NotifySLABreach tells admins a ticket breached its SLA
func (h *Hub) NotifySLABreach(ticketID string, data any) {
	h.send(TargetAdmins, "", TypeSLABreach, "", ticketID, data)
}

// NotifyEscalation tells a ticket's subscribers and the admins that the
// ticket was escalated. A connection in both sets receives it once.
func (h *Hub) NotifyEscalation(ticketID string, data any) {
	h.send(TargetTicketAndAdmins, ticketID, TypeEscalation, "", ticketID, data)
}

// BroadcastTicketUpdate pushes a ticket_update to every subscriber of a ticket
func (h *Hub) BroadcastTicketUpdate(ticketID string, data any) {
	h.send(TargetTicket, ticketID, TypeTicketUpdate, "", ticketID, data)
}

// BroadcastChatMessage pushes a chat_message from senderID to every
// subscriber of a ticket
func (h *Hub) BroadcastChatMessage(ticketID, senderID string, data any) {
	h.send(TargetTicket, ticketID, TypeChatMessage, senderID, ticketID, data)
}

// Stats reports how many users, connections and tickets are registered
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make(map[*client]struct{})
	users := 0
	for key, set := range h.clientsByUser {
		if key != AdminKey {
			users++
		}
		for c := range set {
			conns[c] = struct{}{}
		}
	}
	return Stats{Users: users, Connections: len(conns), Tickets: len(h.subscribersByTicket)}
}

func (h *Hub) send(target, key, typ, userID, ticketID string, data any) {
	env, err := newEnvelope(typ, userID, ticketID, data, h.now().UTC())
	if err != nil {
		h.logger.Error("Failed to encode socket event", zap.String("type", typ), zap.Error(err))
		return
	}
	d := Delivery{Origin: h.id, Target: target, Key: key, Envelope: env}
	h.deliverLocal(d)
	h.publish(d)
}

func (h *Hub) publish(d Delivery) {
	if h.backplane == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := h.backplane.Publish(ctx, d); err != nil {
			h.logger.Warn("Failed to publish socket event to backplane",
				zap.String("type", d.Envelope.Type), zap.Error(err))
		}
	}()
}

// deliverLocal writes a delivery to the matching connections of this instance
func (h *Hub) deliverLocal(d Delivery) {
	targets := h.resolve(d.Target, d.Key)
	if len(targets) == 0 {
		return
	}
	frame, err := json.Marshal(d.Envelope)
	if err != nil {
		h.logger.Error("Failed to encode socket frame", zap.Error(err))
		return
	}
	for _, c := range targets {
		if c.enqueue(frame) {
			metrics.SocketEventsSentTotal.WithLabelValues(d.Envelope.Type).Inc()
		}
	}
}

func (h *Hub) resolve(target, key string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*client]struct{})
	var out []*client
	add := func(userID string) {
		for c := range h.clientsByUser[userID] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}

	switch target {
	case TargetUser:
		add(key)
	case TargetAdmins:
		add(AdminKey)
	case TargetTicket:
		for userID := range h.subscribersByTicket[key] {
			add(userID)
		}
	case TargetTicketAndAdmins:
		for userID := range h.subscribersByTicket[key] {
			add(userID)
		}
		add(AdminKey)
	}
	return out
}

func (h *Hub) handle(c *client, env Envelope) {
	switch env.Type {
	case TypeSubscribe:
		if !h.authorize(c, env) {
			return
		}
		h.subscribe(c, env.TicketID)
		c.reply(TypeSubscribed, env.TicketID, map[string]string{"userId": c.principal.UserID})

	case TypeUnsubscribe:
		if !h.authorize(c, env) {
			return
		}
		h.unsubscribe(c.principal.UserID, env.TicketID)

	case TypeTicketUpdate:
		if env.TicketID == "" {
			c.replyError("MISSING_TICKET_ID", "ticket_update requires ticketId")
			return
		}
		h.BroadcastTicketUpdate(env.TicketID, env.Data)

	case TypeMessage:
		if env.TicketID == "" {
			c.replyError("MISSING_TICKET_ID", "message requires ticketId")
			return
		}
		var payload any = env.Data
		if h.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			saved, err := h.store.SaveMessage(ctx, env.TicketID, c.principal.UserID, env.Data)
			cancel()
			if err != nil {
				h.logger.Warn("Failed to store chat message", zap.String("ticket_id", env.TicketID), zap.Error(err))
				c.replyError("MESSAGE_REJECTED", err.Error())
				return
			}
			payload = saved
		}
		h.BroadcastChatMessage(env.TicketID, c.principal.UserID, payload)

	case TypeHeartbeat:
		c.reply(TypeHeartbeat, "", nil)

	case TypeAdminAction:
		if !c.principal.IsAdmin {
			c.replyError("FORBIDDEN", "admin_action requires an admin account")
			return
		}
		h.send(TargetAdmins, "", TypeAdminAction, c.principal.UserID, env.TicketID, env.Data)

	default:
		c.replyError("UNKNOWN_TYPE", "unsupported message type "+env.Type)
	}
}

// authorize closes the connection when the claimed userId is missing or not
// the authenticated principal
func (h *Hub) authorize(c *client, env Envelope) bool {
	if env.UserID != "" && env.UserID == c.principal.UserID {
		return true
	}
	h.logger.Warn("Rejecting socket message with unverified userId",
		zap.String("type", env.Type),
		zap.String("claimed", env.UserID),
		zap.String("principal", c.principal.UserID))
	c.closeWith(CloseUnauthorized, "userId does not match the authenticated user")
	return false
}

func (h *Hub) subscribe(c *client, ticketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	wasIdle := len(h.clientsByUser) == 0
	h.addLocked(c.principal.UserID, c)
	if c.principal.IsAdmin {
		h.addLocked(AdminKey, c)
	}
	if ticketID != "" {
		subs, ok := h.subscribersByTicket[ticketID]
		if !ok {
			subs = make(map[string]struct{})
			h.subscribersByTicket[ticketID] = subs
		}
		subs[c.principal.UserID] = struct{}{}
	}
	if wasIdle && h.presence != nil {
		h.presence(true)
	}
}

func (h *Hub) unsubscribe(userID, ticketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribersByTicket[ticketID]
	if !ok {
		return
	}
	delete(subs, userID)
	if len(subs) == 0 {
		delete(h.subscribersByTicket, ticketID)
	}
}

// unregister drops a closed connection. A user with no connections left on
// this instance is also dropped from its tickets.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID := c.principal.UserID
	wasIdle := len(h.clientsByUser) == 0
	h.removeLocked(userID, c)
	h.removeLocked(AdminKey, c)
	if !wasIdle && len(h.clientsByUser) == 0 && h.presence != nil {
		h.presence(false)
	}
	if _, connected := h.clientsByUser[userID]; connected {
		return
	}
	for ticketID, subs := range h.subscribersByTicket {
		delete(subs, userID)
		if len(subs) == 0 {
			delete(h.subscribersByTicket, ticketID)
		}
	}
}

func (h *Hub) addLocked(key string, c *client) {
	set, ok := h.clientsByUser[key]
	if !ok {
		set = make(map[*client]struct{})
		h.clientsByUser[key] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) removeLocked(key string, c *client) {
	set, ok := h.clientsByUser[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clientsByUser, key)
	}
}
