// Package eventx is the domain event bus: application code emits events,
// the bus persists them and fans them out to handlers (the webhook
// dispatcher) without blocking the caller.
package eventx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Abraxas-365/recibo/pkg/asyncx"
	"github.com/Abraxas-365/recibo/pkg/errx"
	"github.com/Abraxas-365/recibo/pkg/logx"
	"github.com/google/uuid"
)

var eventxErrors = errx.NewRegistry("EVENTX")

var (
	ErrEventNotFound = eventxErrors.Register("EVENT_NOT_FOUND", errx.TypeNotFound, 404, "Event not found")
	ErrInvalidEvent  = eventxErrors.Register("INVALID_EVENT", errx.TypeValidation, 400, "Invalid event")
	ErrStore         = eventxErrors.Register("STORE", errx.TypeExternal, 500, "Event store operation failed")
)

// NotFound builds the canonical missing-event error.
func NotFound(id string) *errx.Error {
	return eventxErrors.New(ErrEventNotFound).WithDetail("event_id", id)
}

// Store persists domain events.
type Store interface {
	Create(ctx context.Context, event *Event) error
	Get(ctx context.Context, id string) (*Event, error)
}

// Handler receives every persisted event. Handlers run detached from the
// emitting request; their failures are logged, never propagated.
type Handler interface {
	HandleEvent(ctx context.Context, event *Event)
}

// Bus persists and fans out domain events.
type Bus struct {
	store    Store
	handlers []Handler
}

// NewBus creates an event bus on top of store.
func NewBus(store Store) *Bus {
	return &Bus{store: store}
}

// Subscribe attaches a handler. Not safe to call after Emit starts; wire
// handlers during composition.
func (b *Bus) Subscribe(h Handler) {
	b.handlers = append(b.handlers, h)
}

// Emit persists the event and triggers the handlers without blocking the
// caller. The returned event is the stored record.
func (b *Bus) Emit(ctx context.Context, eventType string, payload interface{}, producedBy string) (*Event, error) {
	if eventType == "" {
		return nil, eventxErrors.New(ErrInvalidEvent).WithDetail("missing", "type")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, eventxErrors.NewWithCause(ErrInvalidEvent, err)
	}

	event := &Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Payload:    raw,
		ProducedBy: producedBy,
		Timestamp:  time.Now().UTC(),
	}

	if err := b.store.Create(ctx, event); err != nil {
		return nil, err
	}

	// Fan-out runs detached from the request context: the emitter has done
	// its part once the event is durable.
	for _, h := range b.handlers {
		handler := h
		asyncx.Do(func() {
			defer func() {
				if r := recover(); r != nil {
					logx.Errorf("eventx: handler panic on event %s: %v", event.ID, r)
				}
			}()
			handler.HandleEvent(context.Background(), event)
		})
	}

	return event, nil
}

// Get returns a stored event by id.
func (b *Bus) Get(ctx context.Context, id string) (*Event, error) {
	return b.store.Get(ctx, id)
}
