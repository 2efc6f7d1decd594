package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventJobQueued    = "job_queued"
	EventJobStarted   = "job_started"
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
	EventJobCancelled = "job_cancelled"
	EventSKUMapped    = "sku_mapped"
)

// JobEventPayload describes the minimal job snapshot for event consumers.
type JobEventPayload struct {
	JobID         string `json:"job_id"`
	IntegrationID string `json:"integration_id"`
	TenantID      string `json:"tenant_id"`
	SyncType      string `json:"sync_type"`
	Status        string `json:"status"`
	Priority      string `json:"priority,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// MappingEventPayload describes one mapping decision for event consumers.
type MappingEventPayload struct {
	TenantID        string  `json:"tenant_id"`
	SupplierSKU     string  `json:"supplier_sku"`
	MasterSKU       string  `json:"master_sku"`
	MappingType     string  `json:"mapping_type"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
