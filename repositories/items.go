package repositories

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/tradepost/services/item/models"
)

// SearchQuery carries the filters and pagination for a read-model search.
type SearchQuery struct {
	Term     string
	Category string
	Status   string
	Limit    int
	Offset   int
}

// ItemStats summarizes the read model for the stats query.
type ItemStats struct {
	TotalItems    int64            `json:"total_items"`
	ActiveItems   int64            `json:"active_items"`
	SwappedItems  int64            `json:"swapped_items"`
	ArchivedItems int64            `json:"archived_items"`
	ByCategory    map[string]int64 `json:"by_category"`
}

// ItemRepository provides access to the item read model.
type ItemRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Item, error)
	Upsert(ctx context.Context, item *models.Item) error
	Delete(ctx context.Context, id int64) error
	Search(ctx context.Context, q SearchQuery) ([]models.Item, error)
	GetByOwner(ctx context.Context, ownerID string, status string) ([]models.Item, error)
	Stats(ctx context.Context) (*ItemStats, error)
}

// GormItemRepository implements ItemRepository on Postgres.
type GormItemRepository struct {
	db *gorm.DB
}

// NewGormItemRepository creates a new item repository.
func NewGormItemRepository(db *gorm.DB) *GormItemRepository {
	return &GormItemRepository{db: db}
}

// GetByID gets an item row by aggregate ID. Returns (nil, nil) when the row
// does not exist so callers can distinguish absence from I/O failure.
func (r *GormItemRepository) GetByID(ctx context.Context, id int64) (*models.Item, error) {
	var item models.Item
	err := r.db.WithContext(ctx).First(&item, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(err, "failed to get item by ID")
	}
	return &item, nil
}

// Upsert creates or replaces the item row keyed by aggregate ID.
func (r *GormItemRepository) Upsert(ctx context.Context, item *models.Item) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(item).Error
	if err != nil {
		return pkgerrors.Wrap(err, "failed to upsert item")
	}
	return nil
}

// Delete removes the item row. Only the replay engine uses this, to clear a
// drifted row before re-projecting.
func (r *GormItemRepository) Delete(ctx context.Context, id int64) error {
	if err := r.db.WithContext(ctx).Delete(&models.Item{}, id).Error; err != nil {
		return pkgerrors.Wrap(err, "failed to delete item")
	}
	return nil
}

// Search filters the read model by term, category and status with
// limit/offset pagination.
func (r *GormItemRepository) Search(ctx context.Context, q SearchQuery) ([]models.Item, error) {
	query := r.db.WithContext(ctx).Model(&models.Item{})

	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	if q.Category != "" {
		query = query.Where("category = ?", q.Category)
	}
	if q.Term != "" {
		pattern := "%" + q.Term + "%"
		query = query.Where("name ILIKE ? OR description ILIKE ?", pattern, pattern)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var items []models.Item
	if err := query.Order("id ASC").Limit(limit).Offset(q.Offset).Find(&items).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to search items")
	}
	return items, nil
}

// GetByOwner returns all items owned by ownerID, optionally filtered by status.
func (r *GormItemRepository) GetByOwner(ctx context.Context, ownerID string, status string) ([]models.Item, error) {
	query := r.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var items []models.Item
	if err := query.Order("id ASC").Find(&items).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get items by owner")
	}
	return items, nil
}

// Stats aggregates item counts by status and category.
func (r *GormItemRepository) Stats(ctx context.Context) (*ItemStats, error) {
	stats := &ItemStats{ByCategory: map[string]int64{}}

	if err := r.db.WithContext(ctx).Model(&models.Item{}).Count(&stats.TotalItems).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to count items")
	}

	counts := []struct {
		Status string
		Count  int64
	}{}
	if err := r.db.WithContext(ctx).Model(&models.Item{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&counts).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to count items by status")
	}
	for _, c := range counts {
		switch c.Status {
		case "active":
			stats.ActiveItems = c.Count
		case "swapped":
			stats.SwappedItems = c.Count
		case "archived":
			stats.ArchivedItems = c.Count
		}
	}

	categories := []struct {
		Category string
		Count    int64
	}{}
	if err := r.db.WithContext(ctx).Model(&models.Item{}).
		Select("category, COUNT(*) AS count").
		Group("category").
		Scan(&categories).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to count items by category")
	}
	for _, c := range categories {
		stats.ByCategory[c.Category] = c.Count
	}

	return stats, nil
}
