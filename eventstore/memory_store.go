package eventstore

import (
	"context"
	"sync"

	"example.com/tradepost/services/item/domain"
)

// MemoryEventStore is an in-memory EventStore with the same contract as the
// GORM store. It backs unit tests for the command handlers, projections and
// replay engine without a database.
type MemoryEventStore struct {
	mu     sync.Mutex
	events []memoryEvent
	nextID int64
}

type memoryEvent struct {
	event     domain.Event
	processed bool
	failure   string
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

// Append implements EventStore.
func (s *MemoryEventStore) Append(_ context.Context, aggregateID int64, expectedVersion int, events []domain.Event) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := 0
	for i := range s.events {
		ev := &s.events[i].event
		if ev.AggregateID == aggregateID && ev.AggregateVersion > current {
			current = ev.AggregateVersion
		}
	}
	if current != expectedVersion {
		return nil, domain.ErrConcurrencyConflict
	}

	persisted := make([]domain.Event, len(events))
	copy(persisted, events)
	for i := range persisted {
		ev := &persisted[i]
		ev.AggregateID = aggregateID
		ev.AggregateVersion = expectedVersion + i + 1
		ev.SequenceNumber = int64(len(s.events)) + 1
		s.events = append(s.events, memoryEvent{event: *ev})
	}
	return persisted, nil
}

// LoadStream implements EventStore.
func (s *MemoryEventStore) LoadStream(_ context.Context, aggregateID int64, upToVersion int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Event
	for i := range s.events {
		ev := s.events[i].event
		if ev.AggregateID != aggregateID {
			continue
		}
		if upToVersion > 0 && ev.AggregateVersion > upToVersion {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// LoadAll implements EventStore.
func (s *MemoryEventStore) LoadAll(_ context.Context, afterSequence int64, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Event
	for i := range s.events {
		ev := s.events[i].event
		if ev.SequenceNumber <= afterSequence {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Exists implements EventStore.
func (s *MemoryEventStore) Exists(_ context.Context, aggregateID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].event.AggregateID == aggregateID {
			return true, nil
		}
	}
	return false, nil
}

// HeadSequence implements EventStore.
func (s *MemoryEventStore) HeadSequence(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events)), nil
}

// NextAggregateID implements EventStore.
func (s *MemoryEventStore) NextAggregateID(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var max int64
	for i := range s.events {
		if id := s.events[i].event.AggregateID; id > max {
			max = id
		}
	}
	if s.nextID <= max {
		s.nextID = max
	}
	s.nextID++
	return s.nextID, nil
}

// ListUnprocessed implements EventStore.
func (s *MemoryEventStore) ListUnprocessed(_ context.Context, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Event
	for i := range s.events {
		if s.events[i].processed {
			continue
		}
		out = append(out, s.events[i].event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkProcessed implements EventStore.
func (s *MemoryEventStore) MarkProcessed(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].event.EventID == eventID {
			s.events[i].processed = true
			s.events[i].failure = ""
		}
	}
	return nil
}

// MarkFailed implements EventStore.
func (s *MemoryEventStore) MarkFailed(_ context.Context, eventID string, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].event.EventID == eventID {
			s.events[i].failure = cause
		}
	}
	return nil
}

// FailedAggregates implements EventStore.
func (s *MemoryEventStore) FailedAggregates(_ context.Context, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[int64]bool{}
	var out []int64
	for i := range s.events {
		if s.events[i].failure == "" {
			continue
		}
		id := s.events[i].event.AggregateID
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ClearFailures implements EventStore.
func (s *MemoryEventStore) ClearFailures(_ context.Context, aggregateID int64, upToSequence int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].event.AggregateID == aggregateID && s.events[i].event.SequenceNumber <= upToSequence {
			s.events[i].processed = true
			s.events[i].failure = ""
		}
	}
	return nil
}
