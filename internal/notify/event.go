// Package notify defines the notification events emitted by document
// services and the dispatchers that hand them to delivery.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-scm/internal/platform/db"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// EventType enumerates notification kinds.
type EventType string

const (
	ApprovalRequired EventType = "APPROVAL_REQUIRED"
	DocumentApproved EventType = "DOCUMENT_APPROVED"
	DocumentRejected EventType = "DOCUMENT_REJECTED"
	ApprovalReminder EventType = "APPROVAL_REMINDER"
	LowStockAlert    EventType = "LOW_STOCK_ALERT"
)

// Recipient addresses a user or every holder of a role.
type Recipient struct {
	UserID *int64 `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
}

// ToUser addresses a single user.
func ToUser(id int64) Recipient { return Recipient{UserID: &id} }

// ToRole addresses a role.
func ToRole(role string) Recipient { return Recipient{Role: role} }

// Event is a notification about a document.
type Event struct {
	ID             uuid.UUID          `json:"id"`
	Type           EventType          `json:"type"`
	Document       shared.DocumentRef `json:"document"`
	DocumentNumber string             `json:"document_number"`
	Recipient      Recipient          `json:"recipient"`
	Payload        map[string]any     `json:"payload,omitempty"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

// NewEvent builds an event with a fresh id.
func NewEvent(typ EventType, doc shared.DocumentRef, number string, to Recipient, at time.Time) Event {
	return Event{ID: uuid.New(), Type: typ, Document: doc, DocumentNumber: number, Recipient: to, OccurredAt: at}
}

// With returns a copy of e carrying key in its payload.
func (e Event) With(key string, value any) Event {
	payload := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload[key] = value
	e.Payload = payload
	return e
}

// Validate checks the fields delivery relies on.
func (e Event) Validate() error {
	if e.ID == uuid.Nil {
		return errors.New("notify: event id required")
	}
	if e.Type == "" {
		return errors.New("notify: event type required")
	}
	if e.Recipient.UserID == nil && e.Recipient.Role == "" {
		return errors.New("notify: recipient required")
	}
	return nil
}

// Encode serialises the event for queue payloads.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a queued event.
func Decode(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, err
	}
	return e, e.Validate()
}

// Dispatcher hands events to delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt Event) error
}

// AfterCommit dispatches events once the ambient transaction commits.
// Dispatch failures are logged and dropped.
func AfterCommit(ctx context.Context, d Dispatcher, logger *slog.Logger, events ...Event) {
	if d == nil || len(events) == 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		for _, evt := range events {
			if err := d.Dispatch(ctx, evt); err != nil {
				logger.Warn("dispatch notification",
					slog.String("type", string(evt.Type)),
					slog.String("document", evt.Document.String()),
					slog.Any("error", err))
			}
		}
	})
}

// NopDispatcher discards events.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, Event) error { return nil }

// LogDispatcher writes events to a logger.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d LogDispatcher) Dispatch(_ context.Context, evt Event) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		slog.String("id", evt.ID.String()),
		slog.String("type", string(evt.Type)),
		slog.String("document", evt.Document.String()),
		slog.String("number", evt.DocumentNumber))
	return nil
}

// Recorder keeps dispatched events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Dispatch(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Events returns a copy of what was dispatched.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType filters recorded events.
func (r *Recorder) OfType(typ EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
