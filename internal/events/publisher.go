// Package events notifies lifecycle collaborators about reconciliation
// outcomes: invoices that need a human or the vendor, and newly created
// rules and learning examples.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/pkg/logger"
)

// Type names an event
type Type string

const (
	// TypeAttentionRequired is emitted when an invoice lands in a blocked or
	// awaiting state; consumed by the vendor inquiry drafter.
	TypeAttentionRequired Type = "invoice.attention_required"
	TypeRuleCreated       Type = "rule.created"
	TypeLearningCreated   Type = "learning.created"
)

// Event is the payload published for every notification
type Event struct {
	ID         string               `json:"id"`
	Type       Type                 `json:"type"`
	InvoiceID  string               `json:"invoice_id,omitempty"`
	VendorName string               `json:"vendor_name,omitempty"`
	Status     models.InvoiceStatus `json:"status,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	RuleID     string               `json:"rule_id,omitempty"`
	ExampleID  string               `json:"example_id,omitempty"`
	Actor      string               `json:"actor,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// Encode renders the event as JSON
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// LogPublisher writes events to the structured log
type LogPublisher struct {
	logger logger.Logger
}

// NewLogPublisher creates a publisher that logs each event
func NewLogPublisher(log logger.Logger) *LogPublisher {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &LogPublisher{logger: log.WithComponent("events")}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.WithFields(logger.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"invoice_id": event.InvoiceID,
		"status":     event.Status,
		"rule_id":    event.RuleID,
		"example_id": event.ExampleID,
	}).Info("Event published")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// MemoryPublisher records events for inspection
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher creates an empty recording publisher
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// OfType returns the published events of type t
func (p *MemoryPublisher) OfType(t Type) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (p *MemoryPublisher) Close() error { return nil }

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event Event) error { return nil }
func (NopPublisher) Close() error                                  { return nil }
