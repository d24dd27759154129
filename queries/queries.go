package queries

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/tradepost/services/item/cache"
	"example.com/tradepost/services/item/config"
	"example.com/tradepost/services/item/domain"
	"example.com/tradepost/services/item/models"
	"example.com/tradepost/services/item/projections"
	"example.com/tradepost/services/item/repositories"
)

// cacheTTL bounds read-model staleness served from Redis.
const cacheTTL = 30 * time.Second

// QueryService answers all read requests from the read model. It never
// touches the event log; folding is the command and replay side's job.
type QueryService struct {
	items         repositories.ItemRepository
	redisCache    *cache.RedisCache
	elasticClient *elasticsearch.Client
	cfg           config.Config
}

// NewQueryService creates a new query service. Both redisCache and
// elasticClient are optional.
func NewQueryService(items repositories.ItemRepository, redisCache *cache.RedisCache, elasticClient *elasticsearch.Client, cfg config.Config) *QueryService {
	return &QueryService{
		items:         items,
		redisCache:    redisCache,
		elasticClient: elasticClient,
		cfg:           cfg,
	}
}

// GetItem returns a single item by ID, serving from Redis when possible.
func (s *QueryService) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	cacheKey := cache.GetItemCacheKey(id)

	if s.redisCache != nil && s.redisCache.Enabled() {
		var cached models.Item
		if err := s.redisCache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}

	if s.redisCache != nil && s.redisCache.Enabled() {
		if err := s.redisCache.Set(ctx, cacheKey, item, cacheTTL); err != nil {
			log.Warn().Err(err).Int64("item_id", id).Msg("Failed to cache item")
		}
	}
	return item, nil
}

// SearchItems runs a filtered search over the read model. Elasticsearch
// serves the query when available; the SQL read model is the fallback and
// the source of truth for reads.
func (s *QueryService) SearchItems(ctx context.Context, q repositories.SearchQuery) ([]models.Item, error) {
	if s.elasticClient != nil {
		items, err := s.searchElastic(ctx, q)
		if err == nil {
			return items, nil
		}
		log.Warn().Err(err).Msg("Elasticsearch search failed, falling back to SQL")
	}
	return s.items.Search(ctx, q)
}

// GetItemsByOwner returns the items owned by ownerID, optionally filtered
// by status.
func (s *QueryService) GetItemsByOwner(ctx context.Context, ownerID string, status string) ([]models.Item, error) {
	return s.items.GetByOwner(ctx, ownerID, status)
}

// GetStats returns aggregate counts over the read model, cached briefly.
func (s *QueryService) GetStats(ctx context.Context) (*repositories.ItemStats, error) {
	cacheKey := cache.GetStatsCacheKey()

	if s.redisCache != nil && s.redisCache.Enabled() {
		var cached repositories.ItemStats
		if err := s.redisCache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	stats, err := s.items.Stats(ctx)
	if err != nil {
		return nil, err
	}

	if s.redisCache != nil && s.redisCache.Enabled() {
		if err := s.redisCache.Set(ctx, cacheKey, stats, cacheTTL); err != nil {
			log.Warn().Err(err).Msg("Failed to cache item stats")
		}
	}
	return stats, nil
}

// searchElastic queries the items index.
func (s *QueryService) searchElastic(ctx context.Context, q repositories.SearchQuery) ([]models.Item, error) {
	must := []map[string]interface{}{}
	if q.Term != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q.Term,
				"fields": []string{"name", "description"},
			},
		})
	}

	filter := []map[string]interface{}{}
	if q.Category != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"category": q.Category},
		})
	}
	if q.Status != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"status": q.Status},
		})
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   must,
				"filter": filter,
			},
		},
		"from": q.Offset,
		"size": limit,
		"sort": []map[string]interface{}{
			{"id": map[string]interface{}{"order": "asc"}},
		},
	}

	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	indexName := projections.FormatIndex(projections.ItemsIndex, s.cfg)
	req := esapi.SearchRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, s.elasticClient)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return nil, errors.Errorf("Elasticsearch search error: %v", e)
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source itemDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	items := make([]models.Item, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		item, err := hit.Source.toModel()
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

// itemDocument mirrors the document the projector indexes.
type itemDocument struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	ImageURLs   []string  `json:"image_urls"`
	LocationLat float64   `json:"location_lat"`
	LocationLon float64   `json:"location_lon"`
	OwnerID     string    `json:"owner_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int       `json:"version"`
}

func (d itemDocument) toModel() (*models.Item, error) {
	item := &models.Item{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
		LocationLat: d.LocationLat,
		LocationLon: d.LocationLon,
		OwnerID:     d.OwnerID,
		Status:      d.Status,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		Version:     d.Version,
	}
	if err := item.SetImageURLs(d.ImageURLs); err != nil {
		return nil, err
	}
	return item, nil
}
