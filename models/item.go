package models

import (
	"encoding/json"
	"time"
)

// Item is the denormalized read-model row, keyed by aggregate ID. It is a
// cache over the event log: the projector upserts it after each event and
// the replay engine can rebuild it from scratch at any time.
type Item struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(255);index;not null" json:"name"`
	Description string    `gorm:"type:text;not null" json:"description"`
	Category    string    `gorm:"type:varchar(100);index;not null" json:"category"`
	ImageURLs   []byte    `json:"image_urls"`
	LocationLat float64   `gorm:"not null" json:"location_lat"`
	LocationLon float64   `gorm:"not null" json:"location_lon"`
	OwnerID     string    `gorm:"type:varchar(100);index;not null" json:"owner_id"`
	Status      string    `gorm:"type:varchar(20);index;not null" json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Version is the aggregate_version of the last applied event; the
	// projector uses it as its idempotence guard.
	Version int `gorm:"not null" json:"version"`
}

// TableName keeps the read-model table name stable.
func (Item) TableName() string { return "items" }

// ImageURLList decodes the stored image URL array.
func (i *Item) ImageURLList() []string {
	if len(i.ImageURLs) == 0 {
		return nil
	}
	var urls []string
	if err := json.Unmarshal(i.ImageURLs, &urls); err != nil {
		return nil
	}
	return urls
}

// SetImageURLs encodes the image URL array for storage.
func (i *Item) SetImageURLs(urls []string) error {
	data, err := json.Marshal(urls)
	if err != nil {
		return err
	}
	i.ImageURLs = data
	return nil
}
