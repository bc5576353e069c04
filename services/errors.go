package services

import (
	"fmt"
)

// NotFoundError is returned when an order or user does not exist
type NotFoundError struct {
	Resource string
	ID       any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Resource, e.ID)
}

// Code returns the API error code
func (e *NotFoundError) Code() string {
	return "NOT_FOUND"
}

// UnknownCourierError is returned for a courier missing from the registry
type UnknownCourierError struct {
	Courier string
}

func (e *UnknownCourierError) Error() string {
	return fmt.Sprintf("unknown courier %q", e.Courier)
}

// Code returns the API error code
func (e *UnknownCourierError) Code() string {
	return "UNKNOWN_COURIER"
}

// WebhookPayloadError is returned when a courier webhook cannot be used
type WebhookPayloadError struct {
	Message string
}

func (e *WebhookPayloadError) Error() string {
	return e.Message
}

// Code returns the API error code
func (e *WebhookPayloadError) Code() string {
	return "INVALID_WEBHOOK_PAYLOAD"
}

// ValidationError reports a bad input field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Code returns the API error code
func (e *ValidationError) Code() string {
	return "VALIDATION_ERROR"
}

// InvalidStateError is returned when an order cannot take the requested change
type InvalidStateError struct {
	OrderID uint
	Message string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("order %d: %s", e.OrderID, e.Message)
}

// Code returns the API error code
func (e *InvalidStateError) Code() string {
	return "INVALID_ORDER_STATE"
}

// SyncError wraps a failed courier API call
type SyncError struct {
	Courier        string
	TrackingNumber string
	Err            error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s tracking %s: %v", e.Courier, e.TrackingNumber, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Code returns the API error code
func (e *SyncError) Code() string {
	return "COURIER_SYNC_FAILED"
}

// CourierAPIError is a non-200 answer from a courier tracking API
type CourierAPIError struct {
	StatusCode int
	Body       string
}

func (e *CourierAPIError) Error() string {
	return fmt.Sprintf("courier API returned status %d: %s", e.StatusCode, e.Body)
}
