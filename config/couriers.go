package config

import (
	"sort"
	"strings"
)

// CourierConfig describes how to reach a courier's tracking API
type CourierConfig struct {
	Name               string
	APIKey             string
	APIURL             string
	TrackingURLPattern string // contains the {tracking} placeholder
	WebhookSecret      string // optional shared secret for inbound webhooks
}

// TrackingURL builds the public tracking page URL for a tracking number
func (c CourierConfig) TrackingURL(trackingNumber string) string {
	return strings.ReplaceAll(c.TrackingURLPattern, "{tracking}", trackingNumber)
}

// CourierRegistry is the process-wide courier map. It is never mutated after
// construction so it is safe for concurrent reads.
type CourierRegistry struct {
	couriers map[string]CourierConfig
}

var courierDefaults = []CourierConfig{
	{
		Name:               "dhl",
		APIURL:             "https://api-eu.dhl.com/track/shipments",
		TrackingURLPattern: "https://www.dhl.com/en/express/tracking.html?AWB={tracking}",
	},
	{
		Name:               "fedex",
		APIURL:             "https://apis.fedex.com/track/v1/trackingnumbers",
		TrackingURLPattern: "https://www.fedex.com/fedextrack/?trknbr={tracking}",
	},
	{
		Name:               "ups",
		APIURL:             "https://onlinetools.ups.com/api/track/v1/details",
		TrackingURLPattern: "https://www.ups.com/track?tracknum={tracking}",
	},
}

// NewCourierRegistry builds a registry from explicit entries. Names are
// matched case-insensitively.
func NewCourierRegistry(couriers ...CourierConfig) *CourierRegistry {
	r := &CourierRegistry{couriers: make(map[string]CourierConfig, len(couriers))}
	for _, c := range couriers {
		c.Name = strings.ToLower(c.Name)
		r.couriers[c.Name] = c
	}
	return r
}

// LoadCourierRegistry reads COURIER_<NAME>_* variables over the built-in defaults
func LoadCourierRegistry(lookup func(key, defaultValue string) string) *CourierRegistry {
	couriers := make([]CourierConfig, 0, len(courierDefaults))
	for _, d := range courierDefaults {
		prefix := "COURIER_" + strings.ToUpper(d.Name) + "_"
		couriers = append(couriers, CourierConfig{
			Name:               d.Name,
			APIKey:             lookup(prefix+"API_KEY", ""),
			APIURL:             lookup(prefix+"API_URL", d.APIURL),
			TrackingURLPattern: lookup(prefix+"TRACKING_URL", d.TrackingURLPattern),
			WebhookSecret:      lookup(prefix+"WEBHOOK_SECRET", ""),
		})
	}
	return NewCourierRegistry(couriers...)
}

// Lookup returns the configuration for a courier
func (r *CourierRegistry) Lookup(name string) (CourierConfig, bool) {
	if r == nil {
		return CourierConfig{}, false
	}
	c, ok := r.couriers[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Names returns the configured courier names in sorted order
func (r *CourierRegistry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.couriers))
	for name := range r.couriers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
