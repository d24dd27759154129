package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createdEvent(id int64, owner string) Event {
	return NewEvent(id, 1, owner, ItemCreatedPayload{
		Name:        "Mountain bike",
		Description: "Hardtail, barely used",
		Category:    "sports",
		ImageURLs:   []string{"https://img.example.com/bike.jpg"},
		LocationLat: 52.52,
		LocationLon: 13.405,
		OwnerID:     owner,
		Status:      StatusActive,
	}, nil)
}

func TestFoldEmptyStream(t *testing.T) {
	item, err := Fold(nil)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, item)
}

func TestFoldCreate(t *testing.T) {
	ev := createdEvent(7, "alice")

	item, err := Fold([]Event{ev})
	require.NoError(t, err)

	assert.Equal(t, int64(7), item.ID)
	assert.Equal(t, "Mountain bike", item.Name)
	assert.Equal(t, "sports", item.Category)
	assert.Equal(t, "alice", item.OwnerID)
	assert.Equal(t, StatusActive, item.Status)
	assert.Equal(t, 1, item.Version)
	assert.Equal(t, ev.Timestamp, item.CreatedAt)
}

func TestFoldUpdateAndStatusChange(t *testing.T) {
	events := []Event{
		createdEvent(7, "alice"),
		NewEvent(7, 2, "alice", ItemUpdatedPayload{
			Changes:        map[string]interface{}{"name": "Road bike", "location_lat": 48.13},
			PreviousValues: map[string]interface{}{"name": "Mountain bike", "location_lat": 52.52},
		}, nil),
		NewEvent(7, 3, "alice", ItemStatusChangedPayload{
			OldStatus: StatusActive,
			NewStatus: StatusSwapped,
			Reason:    "swapped for a tent",
		}, nil),
	}

	item, err := Fold(events)
	require.NoError(t, err)

	assert.Equal(t, "Road bike", item.Name)
	assert.Equal(t, 48.13, item.LocationLat)
	assert.Equal(t, "Hardtail, barely used", item.Description)
	assert.Equal(t, StatusSwapped, item.Status)
	assert.Equal(t, 3, item.Version)
}

// Folding a prefix of the stream yields the state as of that point; this is
// what time travel relies on.
func TestFoldPrefix(t *testing.T) {
	events := []Event{
		createdEvent(7, "alice"),
		NewEvent(7, 2, "alice", ItemUpdatedPayload{
			Changes: map[string]interface{}{"name": "Road bike"},
		}, nil),
	}

	before, err := Fold(events[:1])
	require.NoError(t, err)
	assert.Equal(t, "Mountain bike", before.Name)
	assert.Equal(t, 1, before.Version)

	after, err := Fold(events)
	require.NoError(t, err)
	assert.Equal(t, "Road bike", after.Name)
	assert.Equal(t, 2, after.Version)
}

func TestFoldDeleteArchives(t *testing.T) {
	events := []Event{
		createdEvent(7, "alice"),
		NewEvent(7, 2, "alice", ItemDeletedPayload{Reason: "moved abroad"}, nil),
	}

	item, err := Fold(events)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, item.Status)
	assert.Equal(t, 2, item.Version)
}

func TestFoldUnknownEventType(t *testing.T) {
	ev := createdEvent(7, "alice")
	unknown := Event{
		EventID:          "e-unknown",
		EventType:        "item_teleported",
		AggregateID:      7,
		AggregateType:    AggregateTypeItem,
		AggregateVersion: 2,
		Timestamp:        time.Now().UTC(),
	}

	_, err := Fold([]Event{ev, unknown})
	require.ErrorIs(t, err, ErrCorruptStream)
}

func TestFoldUnknownChangeField(t *testing.T) {
	events := []Event{
		createdEvent(7, "alice"),
		NewEvent(7, 2, "alice", ItemUpdatedPayload{
			Changes: map[string]interface{}{"color": "red"},
		}, nil),
	}

	_, err := Fold(events)
	require.ErrorIs(t, err, ErrCorruptStream)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		allowed  bool
	}{
		{StatusActive, StatusArchived, true},
		{StatusActive, StatusSwapped, true},
		{StatusArchived, StatusActive, true},
		{StatusSwapped, StatusActive, true},
		{StatusArchived, StatusSwapped, false},
		{StatusSwapped, StatusArchived, false},
		{StatusActive, StatusActive, false},
		{StatusArchived, StatusArchived, false},
		{StatusSwapped, StatusSwapped, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus(StatusActive))
	assert.True(t, IsValidStatus(StatusArchived))
	assert.True(t, IsValidStatus(StatusSwapped))
	assert.False(t, IsValidStatus("pending"))
	assert.False(t, IsValidStatus(""))
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	payload := ItemStatusChangedPayload{
		OldStatus: StatusActive,
		NewStatus: StatusArchived,
		Reason:    "season over",
	}

	data, err := EncodePayload(payload)
	require.NoError(t, err)

	decoded, err := DecodePayload(ItemStatusChanged, data)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestDecodePayloadUnknownType(t *testing.T) {
	_, err := DecodePayload("item_teleported", []byte(`{}`))
	require.ErrorIs(t, err, ErrCorruptStream)
}
