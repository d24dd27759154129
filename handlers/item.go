package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"example.com/tradepost/services/item/cache"
	"example.com/tradepost/services/item/domain"
	"example.com/tradepost/services/item/eventstore"
	"example.com/tradepost/services/item/projections"
	"example.com/tradepost/services/item/utils"
)

// defaultMaxAttempts bounds the retry loop around version conflicts.
const defaultMaxAttempts = 3

// Command structs
type CreateItemCommand struct {
	Name        string            `json:"name" validate:"required,max=255"`
	Description string            `json:"description" validate:"required"`
	Category    string            `json:"category" validate:"required,max=100"`
	ImageURLs   []string          `json:"image_urls"`
	LocationLat float64           `json:"location_lat" validate:"gte=-90,lte=90"`
	LocationLon float64           `json:"location_lon" validate:"gte=-180,lte=180"`
	OwnerID     string            `json:"owner_id" validate:"required,max=100"`
	Metadata    map[string]string `json:"metadata"`
}

type UpdateItemCommand struct {
	ItemID   int64                  `json:"item_id" validate:"required,gt=0"`
	UserID   string                 `json:"user_id" validate:"required"`
	Changes  map[string]interface{} `json:"changes" validate:"required,min=1"`
	Metadata map[string]string      `json:"metadata"`
}

type ChangeItemStatusCommand struct {
	ItemID    int64             `json:"item_id" validate:"required,gt=0"`
	UserID    string            `json:"user_id" validate:"required"`
	NewStatus string            `json:"new_status" validate:"required"`
	Reason    string            `json:"reason"`
	Metadata  map[string]string `json:"metadata"`
}

type DeleteItemCommand struct {
	ItemID   int64             `json:"item_id" validate:"required,gt=0"`
	UserID   string            `json:"user_id" validate:"required"`
	Reason   string            `json:"reason"`
	Metadata map[string]string `json:"metadata"`
}

// CacheInvalidator drops read-path cache entries after a successful write,
// so queries do not serve stale state for the cache TTL.
type CacheInvalidator interface {
	Delete(ctx context.Context, key string) error
}

// ItemHandler handles all item commands. Every command folds current state
// from the event log, decides, and appends with the folded version as the
// expected version; a concurrent writer surfaces as a version conflict and
// the command is retried against fresh state.
type ItemHandler struct {
	store       eventstore.EventStore
	projector   *projections.ItemProjector
	cache       CacheInvalidator
	maxAttempts int
}

// NewItemHandler creates a new item handler. projector may be nil, in which
// case the read model is updated only by the projection worker; invalidator
// may be nil when no cache is configured.
func NewItemHandler(store eventstore.EventStore, projector *projections.ItemProjector, invalidator CacheInvalidator, maxAttempts int) *ItemHandler {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &ItemHandler{
		store:       store,
		projector:   projector,
		cache:       invalidator,
		maxAttempts: maxAttempts,
	}
}

// HandleCreateItem creates a new item owned by the command's owner. New
// items always start active.
func (h *ItemHandler) HandleCreateItem(ctx context.Context, cmd CreateItemCommand) (*domain.Item, error) {
	if err := utils.ValidateStruct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}

	payload := domain.ItemCreatedPayload{
		Name:        cmd.Name,
		Description: cmd.Description,
		Category:    cmd.Category,
		ImageURLs:   cmd.ImageURLs,
		LocationLat: cmd.LocationLat,
		LocationLon: cmd.LocationLon,
		OwnerID:     cmd.OwnerID,
		Status:      domain.StatusActive,
	}

	var lastErr error
	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		aggregateID, err := h.store.NextAggregateID(ctx)
		if err != nil {
			return nil, err
		}

		event := domain.NewEvent(aggregateID, 1, cmd.OwnerID, payload, cmd.Metadata)
		appended, err := h.store.Append(ctx, aggregateID, 0, []domain.Event{event})
		if err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				// Another writer claimed the allocated ID; allocate a
				// fresh one and try again.
				log.Warn().Int64("aggregate_id", aggregateID).Int("attempt", attempt).Msg("Aggregate ID collision, retrying")
				lastErr = err
				continue
			}
			return nil, err
		}

		h.projectAppended(ctx, appended)
		h.invalidateCache(ctx, aggregateID)
		return domain.Fold(appended)
	}
	return nil, lastErr
}

// HandleUpdateItem applies a set of field changes to an existing item. Only
// the owner may update, and status moves only through HandleChangeItemStatus.
func (h *ItemHandler) HandleUpdateItem(ctx context.Context, cmd UpdateItemCommand) (*domain.Item, error) {
	if err := utils.ValidateStruct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}
	for field := range cmd.Changes {
		if field == "status" {
			return nil, fmt.Errorf("%w: status is changed through the status operation", domain.ErrValidationFailed)
		}
		if !domain.IsUpdatableField(field) {
			return nil, fmt.Errorf("%w: field %q is not updatable", domain.ErrValidationFailed, field)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		item, err := h.loadItem(ctx, cmd.ItemID)
		if err != nil {
			return nil, err
		}
		if item.OwnerID != cmd.UserID {
			return nil, fmt.Errorf("%w: user %s does not own item %d", domain.ErrUnauthorized, cmd.UserID, cmd.ItemID)
		}

		previous := make(map[string]interface{}, len(cmd.Changes))
		for field := range cmd.Changes {
			previous[field] = item.FieldValue(field)
		}

		event := domain.NewEvent(cmd.ItemID, item.Version+1, cmd.UserID, domain.ItemUpdatedPayload{
			Changes:        cmd.Changes,
			PreviousValues: previous,
		}, cmd.Metadata)

		appended, err := h.store.Append(ctx, cmd.ItemID, item.Version, []domain.Event{event})
		if err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				log.Warn().Int64("item_id", cmd.ItemID).Int("attempt", attempt).Msg("Version conflict on update, retrying")
				lastErr = err
				continue
			}
			return nil, err
		}

		h.projectAppended(ctx, appended)
		h.invalidateCache(ctx, cmd.ItemID)
		if err := item.Apply(&appended[0]); err != nil {
			return nil, err
		}
		return item, nil
	}
	return nil, lastErr
}

// HandleChangeItemStatus moves an item through the status state machine.
func (h *ItemHandler) HandleChangeItemStatus(ctx context.Context, cmd ChangeItemStatusCommand) (*domain.Item, error) {
	if err := utils.ValidateStruct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}
	if !domain.IsValidStatus(cmd.NewStatus) {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidationFailed, cmd.NewStatus)
	}

	var lastErr error
	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		item, err := h.loadItem(ctx, cmd.ItemID)
		if err != nil {
			return nil, err
		}
		if item.OwnerID != cmd.UserID {
			return nil, fmt.Errorf("%w: user %s does not own item %d", domain.ErrUnauthorized, cmd.UserID, cmd.ItemID)
		}
		if !domain.CanTransition(item.Status, cmd.NewStatus) {
			return nil, fmt.Errorf("%w: illegal status transition %s -> %s", domain.ErrValidationFailed, item.Status, cmd.NewStatus)
		}

		event := domain.NewEvent(cmd.ItemID, item.Version+1, cmd.UserID, domain.ItemStatusChangedPayload{
			OldStatus: item.Status,
			NewStatus: cmd.NewStatus,
			Reason:    cmd.Reason,
		}, cmd.Metadata)

		appended, err := h.store.Append(ctx, cmd.ItemID, item.Version, []domain.Event{event})
		if err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				log.Warn().Int64("item_id", cmd.ItemID).Int("attempt", attempt).Msg("Version conflict on status change, retrying")
				lastErr = err
				continue
			}
			return nil, err
		}

		h.projectAppended(ctx, appended)
		h.invalidateCache(ctx, cmd.ItemID)
		if err := item.Apply(&appended[0]); err != nil {
			return nil, err
		}
		return item, nil
	}
	return nil, lastErr
}

// HandleDeleteItem archives an item. Nothing is removed from the event log.
func (h *ItemHandler) HandleDeleteItem(ctx context.Context, cmd DeleteItemCommand) (*domain.Item, error) {
	if err := utils.ValidateStruct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}

	var lastErr error
	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		item, err := h.loadItem(ctx, cmd.ItemID)
		if err != nil {
			return nil, err
		}
		if item.OwnerID != cmd.UserID {
			return nil, fmt.Errorf("%w: user %s does not own item %d", domain.ErrUnauthorized, cmd.UserID, cmd.ItemID)
		}

		event := domain.NewEvent(cmd.ItemID, item.Version+1, cmd.UserID, domain.ItemDeletedPayload{
			Reason: cmd.Reason,
		}, cmd.Metadata)

		appended, err := h.store.Append(ctx, cmd.ItemID, item.Version, []domain.Event{event})
		if err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				log.Warn().Int64("item_id", cmd.ItemID).Int("attempt", attempt).Msg("Version conflict on delete, retrying")
				lastErr = err
				continue
			}
			return nil, err
		}

		h.projectAppended(ctx, appended)
		h.invalidateCache(ctx, cmd.ItemID)
		if err := item.Apply(&appended[0]); err != nil {
			return nil, err
		}
		return item, nil
	}
	return nil, lastErr
}

// loadItem folds an aggregate's full stream into current state.
func (h *ItemHandler) loadItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	events, err := h.store.LoadStream(ctx, itemID, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: item %d", domain.ErrNotFound, itemID)
	}
	return domain.Fold(events)
}

// invalidateCache drops the item's cached read-model entry and the stats
// snapshot after a write. Best effort: a miss here only means a stale read
// until the cache TTL expires.
func (h *ItemHandler) invalidateCache(ctx context.Context, itemID int64) {
	if h.cache == nil {
		return
	}
	for _, key := range []string{cache.GetItemCacheKey(itemID), cache.GetStatsCacheKey()} {
		if err := h.cache.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to invalidate cache entry")
		}
	}
}

// projectAppended updates the read model synchronously after a successful
// append. Failures are recorded, not returned: the command already
// committed, and the projection worker re-applies unprocessed events.
func (h *ItemHandler) projectAppended(ctx context.Context, events []domain.Event) {
	if h.projector == nil {
		return
	}
	for _, event := range events {
		if err := h.projector.Project(ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.EventID).Msg("Synchronous projection failed")
			if markErr := h.store.MarkFailed(ctx, event.EventID, err.Error()); markErr != nil {
				log.Error().Err(markErr).Str("event_id", event.EventID).Msg("Failed to record projection failure")
			}
			continue
		}
		if err := h.store.MarkProcessed(ctx, event.EventID); err != nil {
			log.Error().Err(err).Str("event_id", event.EventID).Msg("Failed to mark event as processed")
		}
	}
}
