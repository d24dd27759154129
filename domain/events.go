package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AggregateTypeItem is the aggregate type tag for item streams.
const AggregateTypeItem = "Item"

// EventType constants. These tags are persisted in the event store and
// must stay stable across releases.
const (
	ItemCreated       = "item_created"
	ItemUpdated       = "item_updated"
	ItemStatusChanged = "item_status_changed"
	ItemDeleted       = "item_deleted"
)

// Event is the envelope around a single immutable domain event.
//
// SequenceNumber and AggregateVersion are assigned by the event store at
// commit time; SequenceNumber is the total order across all aggregates,
// AggregateVersion is the 1-based gap-free position within one aggregate's
// own stream.
type Event struct {
	SequenceNumber   int64
	EventID          string
	EventType        string
	AggregateID      int64
	AggregateType    string
	AggregateVersion int
	Timestamp        time.Time
	UserID           string
	Payload          Payload
	Metadata         map[string]string
}

// Payload is the closed union of per-event-type payloads. Exactly one
// struct implements it per EventType tag.
type Payload interface {
	EventType() string
}

// ItemCreatedPayload is the payload of an item_created event.
type ItemCreatedPayload struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	ImageURLs   []string `json:"image_urls"`
	LocationLat float64  `json:"location_lat"`
	LocationLon float64  `json:"location_lon"`
	OwnerID     string   `json:"owner_id"`
	Status      string   `json:"status"`
}

func (ItemCreatedPayload) EventType() string { return ItemCreated }

// ItemUpdatedPayload carries the changed fields together with their
// previous values for the audit trail.
type ItemUpdatedPayload struct {
	Changes        map[string]interface{} `json:"changes"`
	PreviousValues map[string]interface{} `json:"previous_values"`
}

func (ItemUpdatedPayload) EventType() string { return ItemUpdated }

// ItemStatusChangedPayload is the payload of an item_status_changed event.
type ItemStatusChangedPayload struct {
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Reason    string `json:"reason,omitempty"`
}

func (ItemStatusChangedPayload) EventType() string { return ItemStatusChanged }

// ItemDeletedPayload is the payload of an item_deleted event. Items are
// never hard-deleted; the fold archives them.
type ItemDeletedPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (ItemDeletedPayload) EventType() string { return ItemDeleted }

// NewEvent builds an unpersisted event for the given aggregate and version.
// EventID and Timestamp are assigned at creation; SequenceNumber stays zero
// until the store commits the event.
func NewEvent(aggregateID int64, version int, userID string, payload Payload, metadata map[string]string) Event {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return Event{
		EventID:          uuid.New().String(),
		EventType:        payload.EventType(),
		AggregateID:      aggregateID,
		AggregateType:    AggregateTypeItem,
		AggregateVersion: version,
		Timestamp:        time.Now().UTC(),
		UserID:           userID,
		Payload:          payload,
		Metadata:         metadata,
	}
}

// DecodePayload decodes a serialized payload keyed by its event type tag.
// An unrecognized tag is a corrupt stream, never silently ignored.
func DecodePayload(eventType string, data []byte) (Payload, error) {
	switch eventType {
	case ItemCreated:
		var p ItemCreatedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s payload: %w", eventType, err)
		}
		return p, nil

	case ItemUpdated:
		var p ItemUpdatedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s payload: %w", eventType, err)
		}
		return p, nil

	case ItemStatusChanged:
		var p ItemStatusChangedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s payload: %w", eventType, err)
		}
		return p, nil

	case ItemDeleted:
		var p ItemDeletedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s payload: %w", eventType, err)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrCorruptStream, eventType)
	}
}

// EncodePayload serializes a payload for storage.
func EncodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.EventType(), err)
	}
	return data, nil
}
