package services

import (
	"context"
	"fmt"
	"sync"
)

// MockWebhookArchive is an in-memory WebhookArchive for testing
type MockWebhookArchive struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	FailWith error
}

// NewMockWebhookArchive creates an empty mock archive
func NewMockWebhookArchive() *MockWebhookArchive {
	return &MockWebhookArchive{objects: make(map[string][]byte)}
}

// Archive stores the payload under a deterministic key
func (m *MockWebhookArchive) Archive(ctx context.Context, courier, trackingNumber string, payload []byte) (string, error) {
	if m.FailWith != nil {
		return "", m.FailWith
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("webhooks/%s/%s_%d.json", courier, trackingNumber, len(m.objects))
	m.objects[key] = append([]byte(nil), payload...)
	return key, nil
}

// Count returns the number of archived payloads
func (m *MockWebhookArchive) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Get returns an archived payload by key
func (m *MockWebhookArchive) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.objects[key]
	return payload, ok
}
