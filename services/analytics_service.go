package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kendall-kelly/atelier-market-api/models"
	"gorm.io/gorm"
)

const (
	defaultTransitTime    = 5 * 24 * time.Hour
	minEstimateSamples    = 3
	estimateSampleWindow  = 500
	churnRecencyHorizon   = 90 * 24 * time.Hour
	churnFrequencyHorizon = 10
)

// Estimate confidence levels
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// Churn risk levels
const (
	ChurnRiskLow    = "low"
	ChurnRiskMedium = "medium"
	ChurnRiskHigh   = "high"
)

// DeliveryEstimate is a predicted arrival for a shipment
type DeliveryEstimate struct {
	Category            string    `json:"category"`
	EstimatedArrival    time.Time `json:"estimated_arrival"`
	AverageTransitHours float64   `json:"average_transit_hours"`
	SampleSize          int       `json:"sample_size"`
	Confidence          string    `json:"confidence"`
}

// ChurnRisk scores how likely a buyer is to stop ordering
type ChurnRisk struct {
	BuyerID            uint       `json:"buyer_id"`
	Score              float64    `json:"score"`
	Level              string     `json:"level"`
	OrderCount         int        `json:"order_count"`
	DaysSinceLastOrder *int       `json:"days_since_last_order"`
	LastOrderDate      *time.Time `json:"last_order_date,omitempty"`
	LateDeliveryRatio  float64    `json:"late_delivery_ratio"`
}

// AnalyticsService computes delivery and churn heuristics from order history
type AnalyticsService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAnalyticsService creates an analytics service
func NewAnalyticsService(db *gorm.DB) *AnalyticsService {
	return &AnalyticsService{db: db, now: time.Now}
}

// EstimateDelivery predicts arrival from the mean transit time of recent
// deliveries in the same category
func (a *AnalyticsService) EstimateDelivery(ctx context.Context, category string, shippedAt time.Time) (*DeliveryEstimate, error) {
	var samples []models.Order
	err := a.db.WithContext(ctx).
		Select("shipped_at", "delivered_date").
		Where("product_category = ? AND delivery_status = ? AND shipped_at IS NOT NULL AND delivered_date IS NOT NULL",
			category, models.DeliveryDelivered).
		Order("delivered_date DESC").
		Limit(estimateSampleWindow).
		Find(&samples).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery history: %w", err)
	}

	var total time.Duration
	n := 0
	for _, o := range samples {
		transit := o.DeliveredDate.Sub(*o.ShippedAt)
		if transit <= 0 {
			continue
		}
		total += transit
		n++
	}

	estimate := &DeliveryEstimate{Category: category, SampleSize: n}
	transit := defaultTransitTime
	switch {
	case n < minEstimateSamples:
		estimate.Confidence = ConfidenceLow
	case n < 20:
		transit = total / time.Duration(n)
		estimate.Confidence = ConfidenceMedium
	default:
		transit = total / time.Duration(n)
		estimate.Confidence = ConfidenceHigh
	}

	estimate.AverageTransitHours = math.Round(transit.Hours()*10) / 10
	estimate.EstimatedArrival = shippedAt.Add(transit).UTC()
	return estimate, nil
}

// ChurnRisk scores a buyer on recency, frequency and late deliveries:
// 0.5*recency + 0.3*(1-frequency) + 0.2*lateRatio, each term in [0,1]
func (a *AnalyticsService) ChurnRisk(ctx context.Context, buyerID uint) (*ChurnRisk, error) {
	var buyer models.User
	if err := a.db.WithContext(ctx).First(&buyer, buyerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "buyer", ID: buyerID}
		}
		return nil, fmt.Errorf("failed to load buyer: %w", err)
	}

	var orders []models.Order
	if err := a.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("order_date DESC").
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to load buyer orders: %w", err)
	}

	risk := &ChurnRisk{BuyerID: buyerID, OrderCount: len(orders)}

	recency := 1.0
	if len(orders) > 0 {
		last := orders[0].OrderDate
		since := a.now().Sub(last)
		if since < 0 {
			since = 0
		}
		days := int(since.Hours() / 24)
		risk.LastOrderDate = &last
		risk.DaysSinceLastOrder = &days
		recency = math.Min(float64(since)/float64(churnRecencyHorizon), 1)
	}

	frequency := math.Min(float64(len(orders))/churnFrequencyHorizon, 1)

	delivered, late := 0, 0
	for _, o := range orders {
		if o.DeliveryStatus != models.DeliveryDelivered || o.DeliveredDate == nil {
			continue
		}
		delivered++
		if o.EstimatedArrival != nil && o.DeliveredDate.After(*o.EstimatedArrival) {
			late++
		}
	}
	if delivered > 0 {
		risk.LateDeliveryRatio = float64(late) / float64(delivered)
	}

	score := 0.5*recency + 0.3*(1-frequency) + 0.2*risk.LateDeliveryRatio
	risk.Score = math.Round(score*1000) / 1000
	switch {
	case risk.Score < 0.33:
		risk.Level = ChurnRiskLow
	case risk.Score < 0.66:
		risk.Level = ChurnRiskMedium
	default:
		risk.Level = ChurnRiskHigh
	}
	return risk, nil
}
