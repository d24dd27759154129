package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/tradepost/services/item/eventstore"
	"example.com/tradepost/services/item/handlers"
)

func commandMessage(t *testing.T, eventType string, cmd interface{}) *azservicebus.ReceivedMessage {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	body, err := json.Marshal(AzureBusMessage{EventType: eventType, Data: data})
	require.NoError(t, err)
	return &azservicebus.ReceivedMessage{Body: body}
}

func TestProcessMessageCreatesItem(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryEventStore()
	processor := NewProcessor(handlers.NewItemHandler(store, nil, nil, 3))

	msg := commandMessage(t, CreateItem, handlers.CreateItemCommand{
		Name:        "Bicycle",
		Description: "Steel frame commuter",
		Category:    "transport",
		OwnerID:     "alice",
	})
	require.NoError(t, processor.ProcessMessage(ctx, msg))

	exists, err := store.Exists(ctx, 1)
	require.NoError(t, err)
	assert.True(t, exists)
}

// Commands that can never succeed must be completed, not redelivered
// forever.
func TestProcessMessageDropsPermanentFailure(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryEventStore()
	processor := NewProcessor(handlers.NewItemHandler(store, nil, nil, 3))

	msg := commandMessage(t, UpdateItem, handlers.UpdateItemCommand{
		ItemID:  42,
		UserID:  "alice",
		Changes: map[string]interface{}{"name": "Ghost item"},
	})
	assert.NoError(t, processor.ProcessMessage(ctx, msg))
}

func TestProcessMessageIgnoresUnknownType(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryEventStore()
	processor := NewProcessor(handlers.NewItemHandler(store, nil, nil, 3))

	msg := commandMessage(t, "RenameItem", map[string]string{"name": "whatever"})
	assert.NoError(t, processor.ProcessMessage(ctx, msg))
}
