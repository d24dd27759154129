package projections

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/rs/zerolog/log"

	"example.com/tradepost/services/item/config"
	"example.com/tradepost/services/item/domain"
	"example.com/tradepost/services/item/models"
	"example.com/tradepost/services/item/repositories"
)

// Constants for index names
const (
	ItemsIndex      = "items"
	ItemEventsIndex = "item-events"
)

// ItemProjector applies item events to the read model. It is idempotent:
// an event at or below the row's current version is a no-op, so at-least-once
// delivery cannot double-apply.
type ItemProjector struct {
	items         repositories.ItemRepository
	elasticClient *elasticsearch.Client
	cfg           config.Config
}

// NewItemProjector creates a new item projector. elasticClient may be nil,
// in which case search indexing is skipped.
func NewItemProjector(items repositories.ItemRepository, elasticClient *elasticsearch.Client, cfg config.Config) *ItemProjector {
	return &ItemProjector{
		items:         items,
		elasticClient: elasticClient,
		cfg:           cfg,
	}
}

// Project applies a single event to the read model.
func (p *ItemProjector) Project(ctx context.Context, event domain.Event) error {
	row, err := p.items.GetByID(ctx, event.AggregateID)
	if err != nil {
		return err
	}

	// Idempotence guard: the row version is the aggregate_version of the
	// last applied event.
	if row != nil && event.AggregateVersion <= row.Version {
		log.Debug().
			Int64("aggregate_id", event.AggregateID).
			Int("event_version", event.AggregateVersion).
			Int("row_version", row.Version).
			Msg("Event already projected, skipping")
		return nil
	}

	if row == nil && event.EventType != domain.ItemCreated {
		return fmt.Errorf("read model row missing for aggregate %d at version %d", event.AggregateID, event.AggregateVersion)
	}

	// Gap guard: events must apply in version order. Applying past a hole
	// would silently drop the missing event's changes, so the event is
	// rejected and stays marked for repair instead.
	expected := 1
	if row != nil {
		expected = row.Version + 1
	}
	if event.AggregateVersion != expected {
		return fmt.Errorf("projection gap for aggregate %d: expected version %d, got %d", event.AggregateID, expected, event.AggregateVersion)
	}

	state, err := ItemFromRow(row)
	if err != nil {
		return err
	}
	if err := state.Apply(&event); err != nil {
		return err
	}

	updated, err := RowFromItem(state)
	if err != nil {
		return err
	}
	if err := p.items.Upsert(ctx, updated); err != nil {
		return err
	}

	p.indexItem(ctx, updated)
	p.indexEvent(ctx, event)
	return nil
}

// indexItem pushes the item document into Elasticsearch. Search indexing is
// best effort: the SQL read model is authoritative and a rebuild re-indexes.
func (p *ItemProjector) indexItem(ctx context.Context, row *models.Item) {
	if p.elasticClient == nil {
		return
	}

	doc := map[string]interface{}{
		"id":           row.ID,
		"name":         row.Name,
		"description":  row.Description,
		"category":     row.Category,
		"image_urls":   row.ImageURLList(),
		"location_lat": row.LocationLat,
		"location_lon": row.LocationLon,
		"owner_id":     row.OwnerID,
		"status":       row.Status,
		"created_at":   row.CreatedAt,
		"updated_at":   row.UpdatedAt,
		"version":      row.Version,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		log.Warn().Err(err).Int64("item_id", row.ID).Msg("Failed to marshal item document")
		return
	}

	index := FormatIndex(ItemsIndex, p.cfg)
	res, err := p.elasticClient.Index(
		index,
		bytes.NewReader(body),
		p.elasticClient.Index.WithDocumentID(strconv.FormatInt(row.ID, 10)),
		p.elasticClient.Index.WithContext(ctx),
	)
	if err != nil {
		log.Warn().Err(err).Int64("item_id", row.ID).Msg("Failed to index item in Elasticsearch")
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Warn().Str("response", res.String()).Int64("item_id", row.ID).Msg("Elasticsearch rejected item document")
	}
}

// indexEvent pushes the raw event into the event index for search.
func (p *ItemProjector) indexEvent(ctx context.Context, event domain.Event) {
	if p.elasticClient == nil {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Str("event_id", event.EventID).Msg("Failed to marshal event document")
		return
	}

	index := FormatIndex(ItemEventsIndex, p.cfg)
	res, err := p.elasticClient.Index(
		index,
		bytes.NewReader(body),
		p.elasticClient.Index.WithDocumentID(event.EventID),
		p.elasticClient.Index.WithContext(ctx),
	)
	if err != nil {
		log.Warn().Err(err).Str("event_id", event.EventID).Msg("Failed to index event in Elasticsearch")
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Warn().Str("response", res.String()).Str("event_id", event.EventID).Msg("Elasticsearch rejected event document")
	}
}

// ItemFromRow reconstructs fold state from a read-model row. A nil row yields
// the zero state for a not-yet-created aggregate.
func ItemFromRow(row *models.Item) (*domain.Item, error) {
	if row == nil {
		return &domain.Item{}, nil
	}
	return &domain.Item{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Category:    row.Category,
		ImageURLs:   row.ImageURLList(),
		LocationLat: row.LocationLat,
		LocationLon: row.LocationLon,
		OwnerID:     row.OwnerID,
		Status:      row.Status,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		Version:     row.Version,
	}, nil
}

// RowFromItem converts fold state into a read-model row.
func RowFromItem(it *domain.Item) (*models.Item, error) {
	row := &models.Item{
		ID:          it.ID,
		Name:        it.Name,
		Description: it.Description,
		Category:    it.Category,
		LocationLat: it.LocationLat,
		LocationLon: it.LocationLon,
		OwnerID:     it.OwnerID,
		Status:      it.Status,
		CreatedAt:   it.CreatedAt,
		UpdatedAt:   it.UpdatedAt,
		Version:     it.Version,
	}
	if err := row.SetImageURLs(it.ImageURLs); err != nil {
		return nil, err
	}
	return row, nil
}
