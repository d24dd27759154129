package domain

import (
	"fmt"
	"time"
)

// Item status values.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
	StatusSwapped  = "swapped"
)

// legalTransitions defines the allowed status transitions. A transition to
// the current status is not legal.
var legalTransitions = map[string][]string{
	StatusActive:   {StatusArchived, StatusSwapped},
	StatusArchived: {StatusActive},
	StatusSwapped:  {StatusActive},
}

// IsValidStatus reports whether s is a known item status.
func IsValidStatus(s string) bool {
	_, ok := legalTransitions[s]
	return ok
}

// CanTransition reports whether an item may move from one status to another.
func CanTransition(from, to string) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Item is the aggregate state derived by folding an item's event stream.
// It is never persisted independently of the events.
type Item struct {
	ID          int64
	Name        string
	Description string
	Category    string
	ImageURLs   []string
	LocationLat float64
	LocationLon float64
	OwnerID     string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Version is the aggregate_version of the last applied event.
	Version int
}

// Fold reduces an ordered event stream into item state. It is pure and
// order-sensitive: folding a prefix of length n yields the state after
// exactly the first n events, which is what makes time travel a simple
// truncation.
func Fold(events []Event) (*Item, error) {
	if len(events) == 0 {
		return nil, ErrNotFound
	}

	var item Item
	for i := range events {
		if err := item.Apply(&events[i]); err != nil {
			return nil, err
		}
	}
	return &item, nil
}

// Apply mutates the accumulator with a single event. Each event type has
// exactly one transition rule; the projector reuses this method so the read
// model cannot diverge from the fold.
func (it *Item) Apply(ev *Event) error {
	switch p := ev.Payload.(type) {
	case ItemCreatedPayload:
		it.ID = ev.AggregateID
		it.Name = p.Name
		it.Description = p.Description
		it.Category = p.Category
		it.ImageURLs = append([]string(nil), p.ImageURLs...)
		it.LocationLat = p.LocationLat
		it.LocationLon = p.LocationLon
		it.OwnerID = p.OwnerID
		it.Status = p.Status
		it.CreatedAt = ev.Timestamp

	case ItemUpdatedPayload:
		if err := it.applyChanges(p.Changes); err != nil {
			return err
		}

	case ItemStatusChangedPayload:
		it.Status = p.NewStatus

	case ItemDeletedPayload:
		it.Status = StatusArchived

	default:
		return fmt.Errorf("%w: no transition rule for event type %q", ErrCorruptStream, ev.EventType)
	}

	it.UpdatedAt = ev.Timestamp
	it.Version = ev.AggregateVersion
	return nil
}

// UpdatableFields lists the item fields an item_updated event may change.
var UpdatableFields = []string{
	"name", "description", "category", "image_urls",
	"location_lat", "location_lon", "status",
}

// IsUpdatableField reports whether field may appear in an update's changes.
func IsUpdatableField(field string) bool {
	for _, f := range UpdatableFields {
		if f == field {
			return true
		}
	}
	return false
}

// applyChanges applies an item_updated changes map to the state. Values
// arrive as interface{} because the payload round-trips through JSON.
func (it *Item) applyChanges(changes map[string]interface{}) error {
	for field, value := range changes {
		switch field {
		case "name":
			it.Name = stringValue(value)
		case "description":
			it.Description = stringValue(value)
		case "category":
			it.Category = stringValue(value)
		case "image_urls":
			it.ImageURLs = stringSliceValue(value)
		case "location_lat":
			it.LocationLat = floatValue(value)
		case "location_lon":
			it.LocationLon = floatValue(value)
		case "status":
			it.Status = stringValue(value)
		default:
			return fmt.Errorf("%w: unknown change field %q", ErrCorruptStream, field)
		}
	}
	return nil
}

// FieldValue returns the current value of an updatable field, used to
// record previous values in the audit trail.
func (it *Item) FieldValue(field string) interface{} {
	switch field {
	case "name":
		return it.Name
	case "description":
		return it.Description
	case "category":
		return it.Category
	case "image_urls":
		return it.ImageURLs
	case "location_lat":
		return it.LocationLat
	case "location_lon":
		return it.LocationLon
	case "status":
		return it.Status
	default:
		return nil
	}
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}

func floatValue(v interface{}) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case float32:
		return float64(f)
	case int:
		return float64(f)
	case int64:
		return float64(f)
	}
	return 0
}

func stringSliceValue(v interface{}) []string {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, e := range s {
			out = append(out, stringValue(e))
		}
		return out
	}
	return nil
}
