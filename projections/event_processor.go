package projections

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/tradepost/services/item/domain"
	"example.com/tradepost/services/item/eventstore"
)

// EventProcessor polls the event store for unprocessed events and projects
// them. The command path projects synchronously; this worker is the
// catch-up path that makes delivery at-least-once when the synchronous
// projection failed or the process died between append and project.
type EventProcessor struct {
	store              eventstore.EventStore
	projector          *ItemProjector
	batchSize          int
	processingInterval time.Duration
	running            bool
	mutex              sync.Mutex
	stopChan           chan struct{}
}

// NewEventProcessor creates a new event processor
func NewEventProcessor(store eventstore.EventStore, projector *ItemProjector, batchSize int, interval time.Duration) *EventProcessor {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &EventProcessor{
		store:              store,
		projector:          projector,
		batchSize:          batchSize,
		processingInterval: interval,
		running:            false,
		stopChan:           make(chan struct{}),
	}
}

// Start starts the event processor
func (p *EventProcessor) Start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.running {
		return
	}

	p.running = true
	go p.processEvents()
}

// Stop stops the event processor
func (p *EventProcessor) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.running {
		return
	}

	p.running = false
	p.stopChan <- struct{}{}
}

// processEvents processes events in a loop
func (p *EventProcessor) processEvents() {
	ticker := time.NewTicker(p.processingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.ProcessBatch(context.Background()); err != nil {
				log.Error().Err(err).Msg("Failed to process event batch")
			}
		case <-p.stopChan:
			return
		}
	}
}

// ProcessBatch projects one batch of unprocessed events. Events that fail to
// project are recorded with their error and retried on the next tick.
func (p *EventProcessor) ProcessBatch(ctx context.Context) error {
	events, err := p.store.ListUnprocessed(ctx, p.batchSize)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	log.Info().Msgf("Processing %d events", len(events))

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.EventID).Msg("Failed to process event")
			if markErr := p.store.MarkFailed(ctx, event.EventID, err.Error()); markErr != nil {
				log.Error().Err(markErr).Str("event_id", event.EventID).Msg("Failed to record event failure")
			}
			continue
		}

		if err := p.store.MarkProcessed(ctx, event.EventID); err != nil {
			log.Error().Err(err).Str("event_id", event.EventID).Msg("Failed to mark event as processed")
		}
	}

	return nil
}

// processEvent projects a single event
func (p *EventProcessor) processEvent(ctx context.Context, event domain.Event) error {
	switch event.AggregateType {
	case domain.AggregateTypeItem:
		return p.projector.Project(ctx, event)
	default:
		log.Warn().Str("aggregate_type", event.AggregateType).Msg("Unknown aggregate type")
		return nil
	}
}
