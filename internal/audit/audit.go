// Package audit turns visit events from the queue into audit log rows.
package audit

import (
	"context"
	"log"

	"industrialvisit/internal/attendance"
	"industrialvisit/internal/queue"
)

// Sink stores audit entries.
type Sink interface {
	AppendAudit(ctx context.Context, e attendance.AuditEntry) error
}

// Processor consumes visit events and appends them to a Sink.
type Processor struct {
	sink Sink
}

// NewProcessor creates a processor writing to sink.
func NewProcessor(sink Sink) *Processor {
	return &Processor{sink: sink}
}

// Handle records one event. Events without a visit are ignored.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	if msg.VisitID == "" {
		return nil
	}
	return p.sink.AppendAudit(ctx, attendance.AuditEntry{
		VisitID:    msg.VisitID,
		Kind:       msg.Type,
		ActorID:    msg.ActorID,
		Generation: msg.Generation,
		Detail:     msg.Detail,
		OccurredAt: msg.At.UTC(),
	})
}

// Run handles messages until the channel closes. Failures are logged and
// the message is dropped; the audit log is not a source of truth.
func (p *Processor) Run(ctx context.Context, msgs <-chan queue.Message) int {
	handled := 0
	for msg := range msgs {
		if err := p.Handle(ctx, msg); err != nil {
			log.Printf("audit %s for visit %s failed: %v", msg.Type, msg.VisitID, err)
			continue
		}
		handled++
		if msg.Type == queue.TypeRotated {
			log.Printf("visit %s: qr rotated to generation %d by %s", msg.VisitID, msg.Generation, msg.ActorID)
		}
	}
	return handled
}
