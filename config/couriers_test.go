package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCourierTrackingURL(t *testing.T) {
	ups := CourierConfig{TrackingURLPattern: "https://www.ups.com/track?tracknum={tracking}"}
	assert.Equal(t, "https://www.ups.com/track?tracknum=1Z999", ups.TrackingURL("1Z999"))
}

func TestCourierRegistryLookup(t *testing.T) {
	registry := NewCourierRegistry(CourierConfig{Name: "DHL", APIURL: "http://dhl"})

	c, ok := registry.Lookup(" dhl ")
	assert.True(t, ok)
	assert.Equal(t, "http://dhl", c.APIURL)

	_, ok = registry.Lookup("royal-mail")
	assert.False(t, ok)

	var empty *CourierRegistry
	_, ok = empty.Lookup("dhl")
	assert.False(t, ok)
}

func TestLoadCourierRegistryDefaults(t *testing.T) {
	registry := LoadCourierRegistry(func(key, defaultValue string) string {
		if key == "COURIER_FEDEX_WEBHOOK_SECRET" {
			return "s3cret"
		}
		return defaultValue
	})

	fedex, ok := registry.Lookup("fedex")
	assert.True(t, ok)
	assert.Equal(t, "s3cret", fedex.WebhookSecret)
	assert.Contains(t, fedex.TrackingURLPattern, "{tracking}")
}
