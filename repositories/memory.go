package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"

	"example.com/tradepost/services/item/models"
)

// MemoryItemRepository is an in-memory ItemRepository used by unit tests.
type MemoryItemRepository struct {
	mu    sync.Mutex
	items map[int64]models.Item
}

// NewMemoryItemRepository creates an empty in-memory item repository.
func NewMemoryItemRepository() *MemoryItemRepository {
	return &MemoryItemRepository{items: map[int64]models.Item{}}
}

func (r *MemoryItemRepository) GetByID(_ context.Context, id int64) (*models.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (r *MemoryItemRepository) Upsert(_ context.Context, item *models.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[item.ID] = *item
	return nil
}

func (r *MemoryItemRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, id)
	return nil
}

func (r *MemoryItemRepository) Search(_ context.Context, q SearchQuery) ([]models.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := []models.Item{}
	for _, item := range r.items {
		if q.Status != "" && item.Status != q.Status {
			continue
		}
		if q.Category != "" && item.Category != q.Category {
			continue
		}
		if q.Term != "" {
			term := strings.ToLower(q.Term)
			if !strings.Contains(strings.ToLower(item.Name), term) &&
				!strings.Contains(strings.ToLower(item.Description), term) {
				continue
			}
		}
		matched = append(matched, item)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []models.Item{}, nil
		}
		matched = matched[q.Offset:]
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *MemoryItemRepository) GetByOwner(_ context.Context, ownerID string, status string) ([]models.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := []models.Item{}
	for _, item := range r.items {
		if item.OwnerID != ownerID {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		matched = append(matched, item)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}

func (r *MemoryItemRepository) Stats(_ context.Context) (*ItemStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &ItemStats{ByCategory: map[string]int64{}}
	for _, item := range r.items {
		stats.TotalItems++
		switch item.Status {
		case "active":
			stats.ActiveItems++
		case "swapped":
			stats.SwappedItems++
		case "archived":
			stats.ArchivedItems++
		}
		stats.ByCategory[item.Category]++
	}
	return stats, nil
}
