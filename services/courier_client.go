package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kendall-kelly/atelier-market-api/config"
	"github.com/kendall-kelly/atelier-market-api/metrics"
	"github.com/kendall-kelly/atelier-market-api/models"
)

// TrackingEvent is one scan or status change reported by a courier
type TrackingEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
}

// TrackingData is a courier response normalized across vendors
type TrackingData struct {
	Status            string                `json:"status"` // raw vendor status text
	DeliveryStatus    models.DeliveryStatus `json:"delivery_status"`
	Location          string                `json:"location,omitempty"`
	EstimatedDelivery *time.Time            `json:"estimated_delivery,omitempty"`
	Events            []TrackingEvent       `json:"events"`
}

// LatestEventTime returns the newest event timestamp, if any
func (d TrackingData) LatestEventTime() (time.Time, bool) {
	var latest time.Time
	for _, e := range d.Events {
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
	}
	return latest, !latest.IsZero()
}

// CourierClient fetches live tracking data from a courier
type CourierClient interface {
	FetchTracking(ctx context.Context, courier config.CourierConfig, trackingNumber string) (*TrackingData, error)
}

// maxCourierResponse bounds how much of a courier response we read
const maxCourierResponse = 1 << 20

// HTTPCourierClient calls the courier REST APIs
type HTTPCourierClient struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewHTTPCourierClient creates a client whose calls are bounded by timeout
func NewHTTPCourierClient(timeout time.Duration) *HTTPCourierClient {
	return &HTTPCourierClient{
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// FetchTracking performs GET {apiUrl}/{trackingNumber} with the courier's bearer key
func (c *HTTPCourierClient) FetchTracking(ctx context.Context, courier config.CourierConfig, trackingNumber string) (*TrackingData, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	endpoint := strings.TrimRight(courier.APIURL, "/") + "/" + url.PathEscape(trackingNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if courier.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+courier.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.CourierRequestDuration.WithLabelValues(courier.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to call courier API: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCourierResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read courier response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &CourierAPIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}

	data, err := NormalizeCourierResponse(courier.Name, body)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// NormalizeCourierResponse converts a vendor payload into TrackingData.
// Unknown couriers, and vendor payloads without a status, are read with the
// generic {status, location, estimatedDelivery, events} shape.
func NormalizeCourierResponse(courier string, body []byte) (*TrackingData, error) {
	var (
		data *TrackingData
		err  error
	)
	switch strings.ToLower(courier) {
	case "dhl":
		data, err = normalizeDHL(body)
	case "fedex":
		data, err = normalizeFedEx(body)
	case "ups":
		data, err = normalizeUPS(body)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", courier, err)
	}
	if data == nil || data.Status == "" {
		data, err = normalizeGeneric(body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode courier response: %w", err)
		}
	}

	data.DeliveryStatus = MapCourierStatusToDeliveryStatus(data.Status)
	if data.Events == nil {
		data.Events = []TrackingEvent{}
	}
	return data, nil
}

type dhlEvent struct {
	Timestamp   string `json:"timestamp"`
	StatusCode  string `json:"statusCode"`
	Status      string `json:"status"`
	Description string `json:"description"`
	Location    struct {
		Address struct {
			AddressLocality string `json:"addressLocality"`
		} `json:"address"`
	} `json:"location"`
}

func (e dhlEvent) status() string {
	if e.StatusCode != "" {
		return e.StatusCode
	}
	return e.Status
}

type dhlResponse struct {
	Shipments []struct {
		Status                  dhlEvent   `json:"status"`
		EstimatedTimeOfDelivery string     `json:"estimatedTimeOfDelivery"`
		Events                  []dhlEvent `json:"events"`
	} `json:"shipments"`
}

func normalizeDHL(body []byte) (*TrackingData, error) {
	var resp dhlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Shipments) == 0 {
		return nil, nil
	}

	shipment := resp.Shipments[0]
	data := &TrackingData{
		Status:            shipment.Status.status(),
		Location:          shipment.Status.Location.Address.AddressLocality,
		EstimatedDelivery: parseCourierTime(shipment.EstimatedTimeOfDelivery),
	}
	for _, e := range shipment.Events {
		data.Events = append(data.Events, TrackingEvent{
			Timestamp:   derefTime(parseCourierTime(e.Timestamp)),
			Status:      e.status(),
			Location:    e.Location.Address.AddressLocality,
			Description: e.Description,
		})
	}
	return data, nil
}

type fedexLocation struct {
	City        string `json:"city"`
	CountryCode string `json:"countryCode"`
}

type fedexResponse struct {
	Output struct {
		CompleteTrackResults []struct {
			TrackResults []struct {
				LatestStatusDetail struct {
					Code         string        `json:"code"`
					Description  string        `json:"description"`
					ScanLocation fedexLocation `json:"scanLocation"`
				} `json:"latestStatusDetail"`
				EstimatedDeliveryTimeWindow struct {
					Window struct {
						Ends string `json:"ends"`
					} `json:"window"`
				} `json:"estimatedDeliveryTimeWindow"`
				ScanEvents []struct {
					Date             string        `json:"date"`
					EventType        string        `json:"eventType"`
					EventDescription string        `json:"eventDescription"`
					ScanLocation     fedexLocation `json:"scanLocation"`
				} `json:"scanEvents"`
			} `json:"trackResults"`
		} `json:"completeTrackResults"`
	} `json:"output"`
}

func normalizeFedEx(body []byte) (*TrackingData, error) {
	var resp fedexResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Output.CompleteTrackResults) == 0 || len(resp.Output.CompleteTrackResults[0].TrackResults) == 0 {
		return nil, nil
	}

	result := resp.Output.CompleteTrackResults[0].TrackResults[0]
	data := &TrackingData{
		Status:            result.LatestStatusDetail.Description,
		Location:          result.LatestStatusDetail.ScanLocation.City,
		EstimatedDelivery: parseCourierTime(result.EstimatedDeliveryTimeWindow.Window.Ends),
	}
	for _, e := range result.ScanEvents {
		data.Events = append(data.Events, TrackingEvent{
			Timestamp:   derefTime(parseCourierTime(e.Date)),
			Status:      e.EventDescription,
			Location:    e.ScanLocation.City,
			Description: e.EventDescription,
		})
	}
	return data, nil
}

type upsResponse struct {
	TrackResponse struct {
		Shipment []struct {
			Package []struct {
				CurrentStatus struct {
					Code        string `json:"code"`
					Description string `json:"description"`
				} `json:"currentStatus"`
				DeliveryDate []struct {
					Type string `json:"type"`
					Date string `json:"date"`
				} `json:"deliveryDate"`
				Activity []struct {
					Location struct {
						Address struct {
							City    string `json:"city"`
							Country string `json:"country"`
						} `json:"address"`
					} `json:"location"`
					Status struct {
						Type        string `json:"type"`
						Description string `json:"description"`
					} `json:"status"`
					Date string `json:"date"` // YYYYMMDD
					Time string `json:"time"` // HHMMSS
				} `json:"activity"`
			} `json:"package"`
		} `json:"shipment"`
	} `json:"trackResponse"`
}

func normalizeUPS(body []byte) (*TrackingData, error) {
	var resp upsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.TrackResponse.Shipment) == 0 || len(resp.TrackResponse.Shipment[0].Package) == 0 {
		return nil, nil
	}

	pkg := resp.TrackResponse.Shipment[0].Package[0]
	data := &TrackingData{Status: pkg.CurrentStatus.Description}
	for _, d := range pkg.DeliveryDate {
		// SDD is scheduled, RDD rescheduled; DEL is the actual delivery date
		if d.Type == "SDD" || d.Type == "RDD" {
			data.EstimatedDelivery = parseCourierTime(d.Date)
		}
	}
	for i, a := range pkg.Activity {
		if i == 0 {
			data.Location = a.Location.Address.City
		}
		data.Events = append(data.Events, TrackingEvent{
			Timestamp:   derefTime(parseCourierTime(a.Date + a.Time)),
			Status:      a.Status.Description,
			Location:    a.Location.Address.City,
			Description: a.Status.Description,
		})
	}
	return data, nil
}

type genericResponse struct {
	Status            string `json:"status"`
	Location          string `json:"location"`
	EstimatedDelivery string `json:"estimatedDelivery"`
	Events            []struct {
		Timestamp   string `json:"timestamp"`
		Status      string `json:"status"`
		Location    string `json:"location"`
		Description string `json:"description"`
	} `json:"events"`
}

func normalizeGeneric(body []byte) (*TrackingData, error) {
	var resp genericResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	data := &TrackingData{
		Status:            resp.Status,
		Location:          resp.Location,
		EstimatedDelivery: parseCourierTime(resp.EstimatedDelivery),
	}
	for _, e := range resp.Events {
		data.Events = append(data.Events, TrackingEvent{
			Timestamp:   derefTime(parseCourierTime(e.Timestamp)),
			Status:      e.Status,
			Location:    e.Location,
			Description: e.Description,
		})
	}
	return data, nil
}

var courierTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102150405",
	"20060102",
}

// parseCourierTime accepts the timestamp layouts the supported couriers emit
func parseCourierTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range courierTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// truncate caps s at n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
