// Package events publishes call lifecycle events for downstream consumers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	CallCompleted     Type = "call.completed"
	CallCancelled     Type = "call.cancelled"
	ScheduleGenerated Type = "schedule.generated"
)

// Event is the JSON payload written to the stream. Keyed by PatientID so
// one patient's events stay ordered within a partition.
type Event struct {
	ID         uuid.UUID  `json:"id"`
	Type       Type       `json:"type"`
	PatientID  uuid.UUID  `json:"patient_id"`
	CallID     *uuid.UUID `json:"call_id,omitempty"`
	CallType   string     `json:"call_type,omitempty"`
	Status     string     `json:"status,omitempty"`
	DeliveryID string     `json:"delivery_id,omitempty"`
	Count      int        `json:"count,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// NopPublisher drops everything. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }
func (NopPublisher) Close() error                            { return nil }

// Fanout publishes to every member and joins their errors. A failing member
// does not stop delivery to the rest.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, events ...Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
