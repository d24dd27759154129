package replay

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/tradepost/services/item/domain"
	"example.com/tradepost/services/item/eventstore"
	"example.com/tradepost/services/item/projections"
	"example.com/tradepost/services/item/repositories"
)

// Engine rebuilds and inspects aggregate state directly from the event log.
// It never trusts the read model: every answer is a fold over events.
type Engine struct {
	store eventstore.EventStore
	items repositories.ItemRepository
}

// NewEngine creates a new replay engine.
func NewEngine(store eventstore.EventStore, items repositories.ItemRepository) *Engine {
	return &Engine{store: store, items: items}
}

// EventSummary is one entry of an aggregate's history.
type EventSummary struct {
	SequenceNumber int64             `json:"sequence_number"`
	EventID        string            `json:"event_id"`
	EventType      string            `json:"event_type"`
	Version        int               `json:"version"`
	Timestamp      time.Time         `json:"timestamp"`
	UserID         string            `json:"user_id"`
	Payload        interface{}       `json:"payload"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// AuditEntry is one field-level change in an aggregate's audit trail.
type AuditEntry struct {
	Version   int         `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	UserID    string      `json:"user_id"`
	EventType string      `json:"event_type"`
	Field     string      `json:"field"`
	OldValue  interface{} `json:"old_value"`
	NewValue  interface{} `json:"new_value"`
}

// Rebuild refolds the aggregate's full stream and force-overwrites its read
// model row, then clears recorded projection failures up to the captured
// head sequence. Events appended mid-rebuild sit past that ceiling: they are
// excluded from the fold and left unprocessed for the worker.
func (e *Engine) Rebuild(ctx context.Context, aggregateID int64) (*domain.Item, error) {
	head, err := e.store.HeadSequence(ctx)
	if err != nil {
		return nil, err
	}

	events, err := e.store.LoadStream(ctx, aggregateID, 0)
	if err != nil {
		return nil, err
	}
	events = truncateAtSequence(events, head)
	if len(events) == 0 {
		return nil, domain.ErrNotFound
	}

	item, err := domain.Fold(events)
	if err != nil {
		return nil, err
	}

	row, err := projections.RowFromItem(item)
	if err != nil {
		return nil, err
	}
	if err := e.items.Upsert(ctx, row); err != nil {
		return nil, err
	}
	if err := e.store.ClearFailures(ctx, aggregateID, head); err != nil {
		return nil, err
	}

	log.Info().
		Int64("aggregate_id", aggregateID).
		Int("version", item.Version).
		Msg("Read model rebuilt from event log")
	return item, nil
}

// RepairFailed rebuilds every aggregate with a recorded projection failure.
// The worker runs this on a schedule.
func (e *Engine) RepairFailed(ctx context.Context, limit int) error {
	aggregateIDs, err := e.store.FailedAggregates(ctx, limit)
	if err != nil {
		return err
	}

	for _, id := range aggregateIDs {
		if _, err := e.Rebuild(ctx, id); err != nil {
			log.Error().Err(err).Int64("aggregate_id", id).Msg("Failed to rebuild aggregate")
		}
	}
	return nil
}

// History returns the aggregate's full event stream as summaries, oldest
// first.
func (e *Engine) History(ctx context.Context, aggregateID int64) ([]EventSummary, error) {
	events, err := e.store.LoadStream(ctx, aggregateID, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, domain.ErrNotFound
	}

	summaries := make([]EventSummary, 0, len(events))
	for _, ev := range events {
		summaries = append(summaries, EventSummary{
			SequenceNumber: ev.SequenceNumber,
			EventID:        ev.EventID,
			EventType:      ev.EventType,
			Version:        ev.AggregateVersion,
			Timestamp:      ev.Timestamp,
			UserID:         ev.UserID,
			Payload:        ev.Payload,
			Metadata:       ev.Metadata,
		})
	}
	return summaries, nil
}

// AuditTrail flattens the aggregate's history into field-level changes,
// answering who changed what and when.
func (e *Engine) AuditTrail(ctx context.Context, aggregateID int64) ([]AuditEntry, error) {
	events, err := e.store.LoadStream(ctx, aggregateID, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, domain.ErrNotFound
	}

	entries := []AuditEntry{}
	for _, ev := range events {
		switch p := ev.Payload.(type) {
		case domain.ItemCreatedPayload:
			entries = append(entries, auditEntry(ev, "item", nil, p.Name))

		case domain.ItemUpdatedPayload:
			for field, newValue := range p.Changes {
				var oldValue interface{}
				if p.PreviousValues != nil {
					oldValue = p.PreviousValues[field]
				}
				entries = append(entries, auditEntry(ev, field, oldValue, newValue))
			}

		case domain.ItemStatusChangedPayload:
			entries = append(entries, auditEntry(ev, "status", p.OldStatus, p.NewStatus))

		case domain.ItemDeletedPayload:
			entries = append(entries, auditEntry(ev, "status", nil, domain.StatusArchived))
		}
	}
	return entries, nil
}

// TimeTravel folds the longest stream prefix whose timestamps do not exceed
// asOf and returns the resulting state. If the aggregate had no events by
// asOf it returns domain.ErrNotFound.
func (e *Engine) TimeTravel(ctx context.Context, aggregateID int64, asOf time.Time) (*domain.Item, error) {
	events, err := e.store.LoadStream(ctx, aggregateID, 0)
	if err != nil {
		return nil, err
	}

	// Truncate at the first event past asOf. Events with equal timestamps
	// stay ordered by sequence number, so the prefix is well defined.
	cut := len(events)
	for i, ev := range events {
		if ev.Timestamp.After(asOf) {
			cut = i
			break
		}
	}
	events = events[:cut]
	if len(events) == 0 {
		return nil, domain.ErrNotFound
	}

	return domain.Fold(events)
}

func auditEntry(ev domain.Event, field string, oldValue, newValue interface{}) AuditEntry {
	return AuditEntry{
		Version:   ev.AggregateVersion,
		Timestamp: ev.Timestamp,
		UserID:    ev.UserID,
		EventType: ev.EventType,
		Field:     field,
		OldValue:  oldValue,
		NewValue:  newValue,
	}
}

// truncateAtSequence drops events beyond the captured head of the log.
func truncateAtSequence(events []domain.Event, head int64) []domain.Event {
	for i, ev := range events {
		if ev.SequenceNumber > head {
			return events[:i]
		}
	}
	return events
}
