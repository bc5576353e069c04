package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kendall-kelly/atelier-market-api/config"
	"github.com/kendall-kelly/atelier-market-api/metrics"
	"github.com/kendall-kelly/atelier-market-api/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Notifier pushes realtime events to connected clients
type Notifier interface {
	NotifyUser(userID string, data any)
	NotifyAdmins(data any)
}

// DeliveryEstimator predicts an arrival date for a shipment
type DeliveryEstimator interface {
	EstimateDelivery(ctx context.Context, category string, shippedAt time.Time) (*DeliveryEstimate, error)
}

// Actor identifies who triggered an order change
type Actor struct {
	ID   string
	Role string
}

// UserActor builds an actor from a marketplace user
func UserActor(u models.User) Actor {
	return Actor{ID: strconv.FormatUint(uint64(u.ID), 10), Role: u.Role}
}

// SystemActor builds an actor for automated changes
func SystemActor(source string) Actor {
	return Actor{ID: source, Role: "system"}
}

// AssignTrackingRequest carries the input of AssignTracking
type AssignTrackingRequest struct {
	OrderID          uint
	TrackingNumber   string
	Courier          string
	EstimatedArrival *time.Time
}

// TrackingStatus is the stored tracking view of an order
type TrackingStatus struct {
	OrderID          uint                  `json:"order_id"`
	BuyerID          uint                  `json:"buyer_id"`
	SellerID         uint                  `json:"seller_id"`
	Status           models.DeliveryStatus `json:"status"`
	Message          string                `json:"message,omitempty"`
	TrackingNumber   string                `json:"tracking_number,omitempty"`
	Courier          string                `json:"courier,omitempty"`
	TrackingURL      string                `json:"tracking_url,omitempty"`
	EstimatedArrival *time.Time            `json:"estimated_arrival,omitempty"`
	DeliveredDate    *time.Time            `json:"delivered_date,omitempty"`
	Events           []TrackingEvent       `json:"events,omitempty"`
}

// ResultError tags a failed item in a batch result
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TrackingStatusResult is one entry of a batch lookup. Exactly one of
// Tracking and Error is set.
type TrackingStatusResult struct {
	OrderID  uint            `json:"order_id"`
	Tracking *TrackingStatus `json:"tracking,omitempty"`
	Error    *ResultError    `json:"error,omitempty"`
}

// SyncResult reports what a tracking sync observed and changed
type SyncResult struct {
	TrackingNumber string       `json:"tracking_number"`
	Courier        string       `json:"courier"`
	Data           TrackingData `json:"data"`
	Degraded       bool         `json:"degraded"`
	Err            error        `json:"-"`
	Error          string       `json:"error,omitempty"`
	OrdersMatched  int          `json:"orders_matched"`
	UpdatedOrders  []uint       `json:"updated_orders"`
}

// ShipmentSnapshot is the observed state of one active shipment
type ShipmentSnapshot struct {
	TrackingNumber string                `json:"tracking_number"`
	Courier        string                `json:"courier"`
	Status         models.DeliveryStatus `json:"status"`
	Degraded       bool                  `json:"degraded"`
}

// CourierWebhookPayload is the union of the field names couriers send
type CourierWebhookPayload struct {
	TrackingNumber string `json:"tracking_number"`
	TrackNumber    string `json:"tracknumber"`
	Status         string `json:"status"`
	Event          string `json:"event"`
	Location       string `json:"location"`
	Timestamp      string `json:"timestamp"`
	Description    string `json:"description"`
	Message        string `json:"message"`
}

// NotificationEvent is the realtime payload pushed after a notification row is stored
type NotificationEvent struct {
	NotificationID uint                  `json:"notification_id"`
	OrderID        uint                  `json:"order_id"`
	Type           string                `json:"type"`
	Message        string                `json:"message"`
	DeliveryStatus models.DeliveryStatus `json:"delivery_status"`
}

// TrackingOption configures a TrackingService
type TrackingOption func(*TrackingService)

// WithNotifier pushes notifications to connected clients after commit
func WithNotifier(n Notifier) TrackingOption {
	return func(s *TrackingService) { s.notifier = n }
}

// WithEstimator fills missing arrival estimates on AssignTracking
func WithEstimator(e DeliveryEstimator) TrackingOption {
	return func(s *TrackingService) { s.estimator = e }
}

// WithWebhookArchive stores raw courier webhooks
func WithWebhookArchive(a WebhookArchive) TrackingOption {
	return func(s *TrackingService) { s.archive = a }
}

// WithStrictSync surfaces courier failures instead of degrading
func WithStrictSync(strict bool) TrackingOption {
	return func(s *TrackingService) { s.strict = strict }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) TrackingOption {
	return func(s *TrackingService) { s.now = now }
}

// WithBatchLimit bounds concurrent lookups in GetMultipleTrackingStatus
func WithBatchLimit(n int) TrackingOption {
	return func(s *TrackingService) {
		if n > 0 {
			s.batchLimit = n
		}
	}
}

// TrackingService keeps order delivery status consistent with couriers
type TrackingService struct {
	db         *gorm.DB
	couriers   *config.CourierRegistry
	client     CourierClient
	notifier   Notifier
	estimator  DeliveryEstimator
	archive    WebhookArchive
	strict     bool
	batchLimit int
	now        func() time.Time
	logger     *zap.Logger
}

// NewTrackingService creates a tracking reconciler
func NewTrackingService(db *gorm.DB, couriers *config.CourierRegistry, client CourierClient, logger *zap.Logger, opts ...TrackingOption) *TrackingService {
	s := &TrackingService{
		db:         db,
		couriers:   couriers,
		client:     client,
		batchLimit: 8,
		now:        time.Now,
		logger:     logger.Named("tracking"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// errStaleOrder aborts a reconcile transaction when the row changed underneath us
var errStaleOrder = errors.New("order changed concurrently")

// AssignTracking marks an order shipped under a courier tracking number
func (s *TrackingService) AssignTracking(ctx context.Context, req AssignTrackingRequest, actor Actor) (*models.Order, error) {
	trackingNumber := strings.TrimSpace(req.TrackingNumber)
	if trackingNumber == "" {
		return nil, &ValidationError{Field: "tracking_number", Message: "is required"}
	}
	courier, ok := s.couriers.Lookup(req.Courier)
	if !ok {
		return nil, &UnknownCourierError{Courier: req.Courier}
	}

	order, err := s.loadOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.IsCancelled() {
		return nil, &InvalidStateError{OrderID: order.ID, Message: "cancelled orders cannot be shipped"}
	}
	if order.DeliveryStatus == models.DeliveryDelivered {
		return nil, &InvalidStateError{OrderID: order.ID, Message: "order is already delivered"}
	}

	now := s.now().UTC()
	estimatedArrival := req.EstimatedArrival
	if estimatedArrival == nil && s.estimator != nil {
		estimate, err := s.estimator.EstimateDelivery(ctx, order.ProductCategory, now)
		if err != nil {
			s.logger.Warn("Delivery estimate unavailable", zap.Uint("order_id", order.ID), zap.Error(err))
		} else {
			estimatedArrival = &estimate.EstimatedArrival
		}
	}

	trackingURL := courier.TrackingURL(trackingNumber)
	notification := models.Notification{
		SellerID:      order.SellerID,
		BuyerID:       order.BuyerID,
		OrderID:       order.ID,
		RecipientRole: models.RoleBuyer,
		Type:          models.NotificationOrderShipped,
		Message: fmt.Sprintf("Your order #%d has shipped with %s (tracking number %s). Track it here: %s",
			order.ID, strings.ToUpper(courier.Name), trackingNumber, trackingURL),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]any{
			"tracking_number":   trackingNumber,
			"courier":           courier.Name,
			"delivery_status":   models.DeliveryInTransit,
			"order_status":      models.OrderShipped,
			"shipped_at":        now,
			"estimated_arrival": estimatedArrival,
		}).Error; err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}

		transition := models.OrderStateTransition{
			OrderID:         order.ID,
			FromStatus:      order.OrderStatus,
			ToStatus:        models.OrderShipped,
			Reason:          fmt.Sprintf("tracking number %s assigned with %s", trackingNumber, courier.Name),
			TriggeredBy:     actor.ID,
			TriggeredByRole: actor.Role,
		}
		if err := tx.Create(&transition).Error; err != nil {
			return fmt.Errorf("failed to record transition: %w", err)
		}

		if err := tx.Create(&notification).Error; err != nil {
			return fmt.Errorf("failed to create notification: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.DeliveryTransitionsTotal.WithLabelValues(string(order.DeliveryStatus), string(models.DeliveryInTransit)).Inc()
	metrics.NotificationsCreatedTotal.WithLabelValues(notification.Type).Inc()
	s.logger.Info("Tracking assigned",
		zap.Uint("order_id", order.ID),
		zap.String("courier", courier.Name),
		zap.String("tracking_number", trackingNumber),
		zap.String("actor", actor.ID))
	s.push(notification, models.DeliveryInTransit)

	return s.loadOrder(ctx, order.ID)
}

// GetTrackingStatus returns the stored tracking state of an order. It does
// not call the courier.
func (s *TrackingService) GetTrackingStatus(ctx context.Context, orderID uint) (*TrackingStatus, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	status := &TrackingStatus{
		OrderID:  order.ID,
		BuyerID:  order.BuyerID,
		SellerID: order.SellerID,
	}
	if order.TrackingNumber == nil || *order.TrackingNumber == "" {
		status.Status = models.DeliveryNotShipped
		status.Message = "Order has not been shipped yet"
		return status, nil
	}

	status.Status = order.DeliveryStatus
	status.TrackingNumber = *order.TrackingNumber
	status.EstimatedArrival = order.EstimatedArrival
	status.DeliveredDate = order.DeliveredDate
	if order.Courier != nil {
		status.Courier = *order.Courier
		if courier, ok := s.couriers.Lookup(*order.Courier); ok {
			status.TrackingURL = courier.TrackingURL(*order.TrackingNumber)
		}
	}

	eventTime := order.UpdatedAt
	if order.DeliveredDate != nil {
		eventTime = *order.DeliveredDate
	}
	status.Events = []TrackingEvent{{
		Timestamp:   eventTime,
		Status:      string(order.DeliveryStatus),
		Description: describeDeliveryStatus(order.DeliveryStatus),
	}}
	return status, nil
}

// GetMultipleTrackingStatus looks up many orders concurrently. Each id gets
// its own outcome; a failing id does not affect the others.
func (s *TrackingService) GetMultipleTrackingStatus(ctx context.Context, orderIDs []uint) []TrackingStatusResult {
	results := make([]TrackingStatusResult, len(orderIDs))

	var g errgroup.Group
	g.SetLimit(s.batchLimit)
	for i, id := range orderIDs {
		g.Go(func() error {
			results[i].OrderID = id
			status, err := s.GetTrackingStatus(ctx, id)
			if err != nil {
				results[i].Error = toResultError(err)
				return nil
			}
			results[i].Tracking = status
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// SyncTracking pulls the courier's view of a tracking number and reconciles
// every order that carries it
func (s *TrackingService) SyncTracking(ctx context.Context, trackingNumber, courier string) (*SyncResult, error) {
	return s.syncTracking(ctx, trackingNumber, courier, nil)
}

// HandleCourierWebhook ingests a courier push. Callers check the courier's
// webhook secret first. The payload's own status is the fallback observation
// when the courier API cannot be reached, but only for couriers with a secret.
func (s *TrackingService) HandleCourierWebhook(ctx context.Context, courierName string, raw []byte) (*SyncResult, error) {
	courier, ok := s.couriers.Lookup(courierName)
	if !ok {
		metrics.CourierWebhooksTotal.WithLabelValues("unknown", "rejected").Inc()
		return nil, &UnknownCourierError{Courier: courierName}
	}

	var payload CourierWebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		metrics.CourierWebhooksTotal.WithLabelValues(courier.Name, "rejected").Inc()
		return nil, &WebhookPayloadError{Message: "webhook payload is not valid JSON"}
	}

	trackingNumber := strings.TrimSpace(firstNonEmpty(payload.TrackingNumber, payload.TrackNumber))
	if trackingNumber == "" {
		metrics.CourierWebhooksTotal.WithLabelValues(courier.Name, "rejected").Inc()
		return nil, &WebhookPayloadError{Message: "no tracking number in webhook payload"}
	}

	if s.archive != nil {
		if key, err := s.archive.Archive(ctx, courier.Name, trackingNumber, raw); err != nil {
			s.logger.Warn("Failed to archive courier webhook", zap.String("courier", courier.Name), zap.Error(err))
		} else {
			s.logger.Debug("Archived courier webhook", zap.String("key", key))
		}
	}

	// an unauthenticated payload cannot vouch for its own status
	var observed *TrackingData
	if courier.WebhookSecret != "" {
		observed = webhookObservation(payload)
	}

	result, err := s.syncTracking(ctx, trackingNumber, courier.Name, observed)
	if err != nil {
		metrics.CourierWebhooksTotal.WithLabelValues(courier.Name, "failed").Inc()
		return nil, err
	}
	metrics.CourierWebhooksTotal.WithLabelValues(courier.Name, "accepted").Inc()
	return result, nil
}

// SyncActiveShipments syncs every in-transit tracking number. It fails only
// when every shipment failed, so a single bad courier does not count as an
// outage.
func (s *TrackingService) SyncActiveShipments(ctx context.Context) ([]ShipmentSnapshot, error) {
	type shipment struct {
		TrackingNumber string
		Courier        string
	}
	var shipments []shipment
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Distinct("tracking_number", "courier").
		Where("delivery_status = ? AND tracking_number IS NOT NULL AND courier IS NOT NULL AND order_status <> ?",
			models.DeliveryInTransit, models.OrderCancelled).
		Order("tracking_number").
		Scan(&shipments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active shipments: %w", err)
	}

	snapshots := make([]ShipmentSnapshot, 0, len(shipments))
	var errs []error
	for _, sh := range shipments {
		if err := ctx.Err(); err != nil {
			return snapshots, err
		}
		result, err := s.SyncTracking(ctx, sh.TrackingNumber, sh.Courier)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		snapshots = append(snapshots, ShipmentSnapshot{
			TrackingNumber: sh.TrackingNumber,
			Courier:        sh.Courier,
			Status:         result.Data.DeliveryStatus,
			Degraded:       result.Degraded,
		})
	}

	if len(shipments) > 0 && len(errs) == len(shipments) {
		return snapshots, fmt.Errorf("all %d shipment syncs failed: %w", len(shipments), errors.Join(errs...))
	}
	return snapshots, nil
}

// OverrideDeliveryStatus lets an admin correct a delivery status, including
// moving it backwards for returns and courier exceptions
func (s *TrackingService) OverrideDeliveryStatus(ctx context.Context, orderID uint, status models.DeliveryStatus, reason string, actor Actor) (*models.Order, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown delivery status %q", status)}
	}
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Message: "is required"}
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.DeliveryStatus == status {
		return order, nil
	}

	updates := map[string]any{"delivery_status": status}
	switch status {
	case models.DeliveryDelivered:
		updates["delivered_date"] = s.now().UTC()
		if !order.IsCancelled() {
			updates["order_status"] = models.OrderDelivered
		}
	case models.DeliveryInTransit:
		updates["delivered_date"] = nil
		if !order.IsCancelled() {
			updates["order_status"] = models.OrderShipped
		}
	default:
		updates["delivered_date"] = nil
	}

	notification := models.Notification{
		SellerID:      order.SellerID,
		BuyerID:       order.BuyerID,
		OrderID:       order.ID,
		RecipientRole: models.RoleBuyer,
		Type:          models.NotificationDeliveryCorrection,
		Message:       fmt.Sprintf("The delivery status of order #%d was updated to %s: %s", order.ID, humanStatus(status), reason),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		if err := tx.Create(&models.OrderStateTransition{
			OrderID:         order.ID,
			FromStatus:      string(order.DeliveryStatus),
			ToStatus:        string(status),
			Reason:          reason,
			TriggeredBy:     actor.ID,
			TriggeredByRole: actor.Role,
		}).Error; err != nil {
			return fmt.Errorf("failed to record transition: %w", err)
		}
		if err := tx.Create(&notification).Error; err != nil {
			return fmt.Errorf("failed to create notification: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.DeliveryTransitionsTotal.WithLabelValues(string(order.DeliveryStatus), string(status)).Inc()
	metrics.NotificationsCreatedTotal.WithLabelValues(notification.Type).Inc()
	s.logger.Info("Delivery status overridden",
		zap.Uint("order_id", order.ID),
		zap.String("from", string(order.DeliveryStatus)),
		zap.String("to", string(status)),
		zap.String("actor", actor.ID))
	s.push(notification, status)

	return s.loadOrder(ctx, order.ID)
}

func (s *TrackingService) syncTracking(ctx context.Context, trackingNumber, courierName string, observed *TrackingData) (*SyncResult, error) {
	courier, ok := s.couriers.Lookup(courierName)
	if !ok {
		return nil, &UnknownCourierError{Courier: courierName}
	}

	result := &SyncResult{TrackingNumber: trackingNumber, Courier: courier.Name, UpdatedOrders: []uint{}}

	data, err := s.client.FetchTracking(ctx, courier, trackingNumber)
	if err != nil {
		syncErr := &SyncError{Courier: courier.Name, TrackingNumber: trackingNumber, Err: err}
		if s.strict {
			metrics.TrackingSyncsTotal.WithLabelValues(courier.Name, "failed").Inc()
			s.logger.Error("Courier sync failed", zap.String("courier", courier.Name),
				zap.String("tracking_number", trackingNumber), zap.Error(err))
			return nil, syncErr
		}

		data = degradedObservation(observed)
		result.Degraded = true
		result.Err = syncErr
		result.Error = syncErr.Error()
		metrics.TrackingSyncsTotal.WithLabelValues(courier.Name, "degraded").Inc()
		s.logger.Warn("Courier sync degraded, using fallback status",
			zap.String("courier", courier.Name),
			zap.String("tracking_number", trackingNumber),
			zap.String("fallback_status", string(data.DeliveryStatus)),
			zap.Error(err))
		if s.notifier != nil {
			s.notifier.NotifyAdmins(map[string]any{
				"kind":            "courier_sync_degraded",
				"courier":         courier.Name,
				"tracking_number": trackingNumber,
				"error":           syncErr.Error(),
			})
		}
	} else {
		metrics.TrackingSyncsTotal.WithLabelValues(courier.Name, "ok").Inc()
	}
	result.Data = *data

	var orders []models.Order
	if err := s.db.WithContext(ctx).Where("tracking_number = ?", trackingNumber).Order("id").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to load orders for tracking number %s: %w", trackingNumber, err)
	}
	result.OrdersMatched = len(orders)
	if result.Degraded {
		s.recordDegradedSync(ctx, orders, courier.Name, trackingNumber, result.Error)
	}

	var errs []error
	for _, order := range orders {
		changed, err := s.reconcileOrder(ctx, order, *data, courier.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			result.UpdatedOrders = append(result.UpdatedOrders, order.ID)
		}
	}
	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}
	return result, nil
}

// reconcileOrder applies one courier observation to one order. Delivery
// status only moves forward here.
func (s *TrackingService) reconcileOrder(ctx context.Context, order models.Order, data TrackingData, courier string) (bool, error) {
	target := data.DeliveryStatus
	log := s.logger.With(zap.Uint("order_id", order.ID), zap.String("courier", courier))

	if order.IsCancelled() {
		log.Debug("Skipping cancelled order")
		return false, nil
	}
	if target == order.DeliveryStatus {
		return false, nil
	}
	if target.Rank() < order.DeliveryStatus.Rank() {
		log.Warn("Ignoring courier status regression",
			zap.String("stored", string(order.DeliveryStatus)),
			zap.String("reported", data.Status))
		return false, nil
	}

	updates := map[string]any{"delivery_status": target}
	if data.EstimatedDelivery != nil {
		updates["estimated_arrival"] = *data.EstimatedDelivery
	}
	notification := models.Notification{
		SellerID:      order.SellerID,
		BuyerID:       order.BuyerID,
		OrderID:       order.ID,
		RecipientRole: models.RoleBuyer,
	}
	var sellerNotice *models.Notification
	switch target {
	case models.DeliveryDelivered:
		deliveredAt := s.now().UTC()
		if latest, ok := data.LatestEventTime(); ok {
			deliveredAt = latest
		}
		updates["delivered_date"] = deliveredAt
		updates["order_status"] = models.OrderDelivered
		notification.Type = models.NotificationDeliveryConfirmed
		notification.Message = fmt.Sprintf("Your order #%d has been delivered.", order.ID)
		sellerNotice = &models.Notification{
			SellerID:      order.SellerID,
			BuyerID:       order.BuyerID,
			OrderID:       order.ID,
			RecipientRole: models.RoleSeller,
			Type:          models.NotificationSaleDelivered,
			Message:       fmt.Sprintf("Order #%d was delivered to the buyer.", order.ID),
		}
	default:
		if order.OrderStatus != models.OrderShipped {
			updates["order_status"] = models.OrderShipped
		}
		notification.Type = models.NotificationDeliveryUpdate
		notification.Message = fmt.Sprintf("Your order #%d is %s.", order.ID, humanStatus(target))
		if data.Location != "" {
			notification.Message = fmt.Sprintf("Your order #%d is %s (last seen in %s).", order.ID, humanStatus(target), data.Location)
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("id = ? AND delivery_status = ?", order.ID, order.DeliveryStatus).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update order %d: %w", order.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return errStaleOrder
		}

		if err := tx.Create(&models.OrderStateTransition{
			OrderID:         order.ID,
			FromStatus:      string(order.DeliveryStatus),
			ToStatus:        string(target),
			Reason:          fmt.Sprintf("courier reported %q", data.Status),
			TriggeredBy:     "courier:" + courier,
			TriggeredByRole: "system",
		}).Error; err != nil {
			return fmt.Errorf("failed to record transition for order %d: %w", order.ID, err)
		}

		if err := tx.Create(&notification).Error; err != nil {
			return fmt.Errorf("failed to create notification for order %d: %w", order.ID, err)
		}
		if sellerNotice != nil {
			if err := tx.Create(sellerNotice).Error; err != nil {
				return fmt.Errorf("failed to create seller notification for order %d: %w", order.ID, err)
			}
		}
		return nil
	})
	if errors.Is(err, errStaleOrder) {
		log.Info("Order changed during sync, skipping")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	metrics.DeliveryTransitionsTotal.WithLabelValues(string(order.DeliveryStatus), string(target)).Inc()
	metrics.NotificationsCreatedTotal.WithLabelValues(notification.Type).Inc()
	log.Info("Delivery status updated",
		zap.String("from", string(order.DeliveryStatus)),
		zap.String("to", string(target)))
	s.push(notification, target)
	if sellerNotice != nil {
		metrics.NotificationsCreatedTotal.WithLabelValues(sellerNotice.Type).Inc()
		s.push(*sellerNotice, target)
	}
	return true, nil
}

// recordDegradedSync leaves an admin feed entry per affected order so the gap
// is visible to admins who were offline when the live alert went out
func (s *TrackingService) recordDegradedSync(ctx context.Context, orders []models.Order, courier, trackingNumber, cause string) {
	notifications := make([]models.Notification, 0, len(orders))
	for _, order := range orders {
		if order.IsCancelled() {
			continue
		}
		notifications = append(notifications, models.Notification{
			SellerID:      order.SellerID,
			BuyerID:       order.BuyerID,
			OrderID:       order.ID,
			RecipientRole: models.RoleAdmin,
			Type:          models.NotificationSyncDegraded,
			Message: fmt.Sprintf("Could not reach %s for order #%d (tracking number %s): %s",
				strings.ToUpper(courier), order.ID, trackingNumber, cause),
		})
	}
	if len(notifications) == 0 {
		return
	}
	if err := s.db.WithContext(ctx).Create(&notifications).Error; err != nil {
		s.logger.Error("Failed to record degraded sync", zap.String("courier", courier),
			zap.String("tracking_number", trackingNumber), zap.Error(err))
		return
	}
	metrics.NotificationsCreatedTotal.WithLabelValues(models.NotificationSyncDegraded).Add(float64(len(notifications)))
}

func (s *TrackingService) loadOrder(ctx context.Context, orderID uint) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).First(&order, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "order", ID: orderID}
		}
		return nil, fmt.Errorf("failed to load order %d: %w", orderID, err)
	}
	return &order, nil
}

// push runs after commit. Delivery is at-most-once; the notification row is
// the durable record.
func (s *TrackingService) push(n models.Notification, status models.DeliveryStatus) {
	if s.notifier == nil {
		return
	}
	recipient, ok := n.RecipientID()
	if !ok {
		return
	}
	s.notifier.NotifyUser(strconv.FormatUint(uint64(recipient), 10), NotificationEvent{
		NotificationID: n.ID,
		OrderID:        n.OrderID,
		Type:           n.Type,
		Message:        n.Message,
		DeliveryStatus: status,
	})
}

// webhookObservation turns a webhook payload into a fallback observation
func webhookObservation(p CourierWebhookPayload) *TrackingData {
	status := firstNonEmpty(p.Status, p.Event)
	if status == "" {
		return nil
	}
	data := &TrackingData{
		Status:         status,
		DeliveryStatus: MapCourierStatusToDeliveryStatus(status),
		Location:       p.Location,
	}
	if ts := parseCourierTime(p.Timestamp); ts != nil {
		data.Events = []TrackingEvent{{
			Timestamp:   *ts,
			Status:      status,
			Location:    p.Location,
			Description: firstNonEmpty(p.Description, p.Message),
		}}
	}
	return data
}

// degradedObservation is used when the courier API is unavailable
func degradedObservation(observed *TrackingData) *TrackingData {
	if observed != nil {
		copied := *observed
		return &copied
	}
	return &TrackingData{
		Status:         "in_transit",
		DeliveryStatus: models.DeliveryInTransit,
		Events:         []TrackingEvent{},
	}
}

// errorCoder is implemented by the typed errors in this package
type errorCoder interface {
	Code() string
}

func toResultError(err error) *ResultError {
	var coder errorCoder
	if errors.As(err, &coder) {
		return &ResultError{Code: coder.Code(), Message: err.Error()}
	}
	return &ResultError{Code: "INTERNAL_ERROR", Message: err.Error()}
}

func describeDeliveryStatus(status models.DeliveryStatus) string {
	switch status {
	case models.DeliveryDelivered:
		return "Package delivered"
	case models.DeliveryInTransit:
		return "Package is in transit"
	default:
		return "Package has not been handed to the courier"
	}
}

func humanStatus(status models.DeliveryStatus) string {
	return strings.ReplaceAll(string(status), "_", " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
