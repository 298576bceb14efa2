package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stitchworks/be-mfg-subbatches/internal/platform/events"
)

// EventPublisher publishes production-tracking events to NATS for
// consumption by downstream services (notifications, analytics, wage
// computation).
//
// Subject convention: mfg.subbatch.<event_type>
// Event types: dispatched, stage_moved, work_logged, advanced,
// rejected, altered, completed.
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so event delivery failures never interrupt routing.
type EventPublisher struct {
	nats *events.Client
	log  zerolog.Logger
}

// ProductionEvent is the JSON schema published to NATS.
type ProductionEvent struct {
	EventType    string                 `json:"event_type"`
	SubBatchID   string                 `json:"sub_batch_id"`
	AssignmentID string                 `json:"assignment_id,omitempty"`
	DepartmentID int64                  `json:"department_id,omitempty"`
	ActorID      string                 `json:"actor_id,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewEventPublisher creates a publisher backed by the given NATS client.
// A nil NATS client disables publishing.
func NewEventPublisher(nats *events.Client, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{nats: nats, log: log}
}

// Publish sends one production event. Subject: mfg.subbatch.<eventType>
func (p *EventPublisher) Publish(ctx context.Context, event *ProductionEvent) {
	if p == nil || p.nats == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("events: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("mfg.subbatch.%s", event.EventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("sub_batch_id", event.SubBatchID).
			Msg("events: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("sub_batch_id", event.SubBatchID).
		Msg("events: event published")
}
