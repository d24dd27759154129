package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/tradepost/services/item/domain"
	"example.com/tradepost/services/item/models"
)

// GormEventStore implements EventStore on a Postgres event_store table via
// GORM. Sequence numbers come from the autoincrementing primary key; the
// unique index on (aggregate_type, aggregate_id, aggregate_version)
// enforces optimistic concurrency even if two transactions pass the
// expected-version check simultaneously.
type GormEventStore struct {
	db *gorm.DB
}

// NewGormEventStore creates a new GORM event store. The *gorm.DB must be
// opened with TranslateError enabled so duplicate-key violations surface as
// gorm.ErrDuplicatedKey.
func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

// Append implements EventStore.
func (s *GormEventStore) Append(ctx context.Context, aggregateID int64, expectedVersion int, events []domain.Event) ([]domain.Event, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("no events to append")
	}

	persisted := make([]domain.Event, len(events))
	copy(persisted, events)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int
		row := tx.Model(&models.Event{}).
			Select("COALESCE(MAX(aggregate_version), 0)").
			Where("aggregate_id = ? AND aggregate_type = ?", aggregateID, domain.AggregateTypeItem).
			Row()
		if err := row.Scan(&current); err != nil {
			return fmt.Errorf("failed to read current version: %w", err)
		}

		if current != expectedVersion {
			return domain.ErrConcurrencyConflict
		}

		for i := range persisted {
			ev := &persisted[i]
			ev.AggregateID = aggregateID
			ev.AggregateVersion = expectedVersion + i + 1

			payload, err := domain.EncodePayload(ev.Payload)
			if err != nil {
				return err
			}
			metadata, err := json.Marshal(ev.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata: %w", err)
			}

			record := models.Event{
				EventID:          ev.EventID,
				EventType:        ev.EventType,
				AggregateID:      ev.AggregateID,
				AggregateType:    ev.AggregateType,
				AggregateVersion: ev.AggregateVersion,
				Timestamp:        ev.Timestamp,
				UserID:           ev.UserID,
				Payload:          payload,
				Metadata:         metadata,
				Processed:        false,
			}

			if err := tx.Create(&record).Error; err != nil {
				// Another writer committed this version between our check
				// and the insert.
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return domain.ErrConcurrencyConflict
				}
				return fmt.Errorf("failed to append event: %w", err)
			}

			ev.SequenceNumber = record.SequenceNumber

			log.Info().
				Int64("aggregate_id", ev.AggregateID).
				Str("event_type", ev.EventType).
				Int("version", ev.AggregateVersion).
				Int64("sequence", ev.SequenceNumber).
				Msg("Event appended")
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return persisted, nil
}

// LoadStream implements EventStore.
func (s *GormEventStore) LoadStream(ctx context.Context, aggregateID int64, upToVersion int) ([]domain.Event, error) {
	q := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND aggregate_type = ?", aggregateID, domain.AggregateTypeItem)
	if upToVersion > 0 {
		q = q.Where("aggregate_version <= ?", upToVersion)
	}

	var records []models.Event
	if err := q.Order("aggregate_version ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load stream: %w", err)
	}

	return decodeRecords(records)
}

// LoadAll implements EventStore.
func (s *GormEventStore) LoadAll(ctx context.Context, afterSequence int64, limit int) ([]domain.Event, error) {
	var records []models.Event
	if err := s.db.WithContext(ctx).
		Where("sequence_number > ?", afterSequence).
		Order("sequence_number ASC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	return decodeRecords(records)
}

// Exists implements EventStore.
func (s *GormEventStore) Exists(ctx context.Context, aggregateID int64) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("aggregate_id = ? AND aggregate_type = ?", aggregateID, domain.AggregateTypeItem).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check aggregate existence: %w", err)
	}
	return count > 0, nil
}

// HeadSequence implements EventStore.
func (s *GormEventStore) HeadSequence(ctx context.Context) (int64, error) {
	var head int64
	row := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Select("COALESCE(MAX(sequence_number), 0)").
		Row()
	if err := row.Scan(&head); err != nil {
		return 0, fmt.Errorf("failed to read head sequence: %w", err)
	}
	return head, nil
}

// NextAggregateID implements EventStore.
func (s *GormEventStore) NextAggregateID(ctx context.Context) (int64, error) {
	var max int64
	row := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Select("COALESCE(MAX(aggregate_id), 0)").
		Where("aggregate_type = ?", domain.AggregateTypeItem).
		Row()
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to allocate aggregate ID: %w", err)
	}
	return max + 1, nil
}

// ListUnprocessed implements EventStore.
func (s *GormEventStore) ListUnprocessed(ctx context.Context, limit int) ([]domain.Event, error) {
	var records []models.Event
	if err := s.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("sequence_number ASC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list unprocessed events: %w", err)
	}

	return decodeRecords(records)
}

// MarkProcessed implements EventStore.
func (s *GormEventStore) MarkProcessed(ctx context.Context, eventID string) error {
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{"processed": true, "error": nil}).
		Error; err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	return nil
}

// MarkFailed implements EventStore.
func (s *GormEventStore) MarkFailed(ctx context.Context, eventID string, cause string) error {
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("event_id = ?", eventID).
		Update("error", &cause).
		Error; err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

// FailedAggregates implements EventStore.
func (s *GormEventStore) FailedAggregates(ctx context.Context, limit int) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Distinct("aggregate_id").
		Where("error IS NOT NULL").
		Limit(limit).
		Pluck("aggregate_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list failed aggregates: %w", err)
	}
	return ids, nil
}

// ClearFailures implements EventStore.
func (s *GormEventStore) ClearFailures(ctx context.Context, aggregateID int64, upToSequence int64) error {
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("aggregate_id = ? AND aggregate_type = ?", aggregateID, domain.AggregateTypeItem).
		Where("sequence_number <= ?", upToSequence).
		Updates(map[string]interface{}{"processed": true, "error": nil}).
		Error; err != nil {
		return fmt.Errorf("failed to clear projection failures: %w", err)
	}
	return nil
}

func decodeRecords(records []models.Event) ([]domain.Event, error) {
	events := make([]domain.Event, 0, len(records))
	for i := range records {
		ev, err := decodeRecord(&records[i])
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func decodeRecord(record *models.Event) (domain.Event, error) {
	payload, err := domain.DecodePayload(record.EventType, record.Payload)
	if err != nil {
		return domain.Event{}, err
	}

	metadata := map[string]string{}
	if len(record.Metadata) > 0 {
		if err := json.Unmarshal(record.Metadata, &metadata); err != nil {
			return domain.Event{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return domain.Event{
		SequenceNumber:   record.SequenceNumber,
		EventID:          record.EventID,
		EventType:        record.EventType,
		AggregateID:      record.AggregateID,
		AggregateType:    record.AggregateType,
		AggregateVersion: record.AggregateVersion,
		Timestamp:        record.Timestamp,
		UserID:           record.UserID,
		Payload:          payload,
		Metadata:         metadata,
	}, nil
}
