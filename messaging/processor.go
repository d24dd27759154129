package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"example.com/tradepost/services/item/domain"
	"example.com/tradepost/services/item/handlers"
)

// EventType definitions
const (
	CreateItem       = "CreateItem"
	UpdateItem       = "UpdateItem"
	ChangeItemStatus = "ChangeItemStatus"
	DeleteItem       = "DeleteItem"
)

// AzureBusMessage is the common message structure
type AzureBusMessage struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

type Processor struct {
	itemHandler *handlers.ItemHandler
}

func NewProcessor(itemHandler *handlers.ItemHandler) *Processor {
	return &Processor{itemHandler: itemHandler}
}

func (p *Processor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var msg AzureBusMessage
	if err := json.Unmarshal(message.Body, &msg); err != nil {
		return fmt.Errorf("error unmarshalling message: %w", err)
	}

	log.Info().Str("eventType", msg.EventType).Msg("Processing message")

	switch msg.EventType {
	case CreateItem:
		var cmd handlers.CreateItemCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.itemHandler.HandleCreateItem(ctx, cmd)
		return dropPermanent(msg.EventType, err)

	case UpdateItem:
		var cmd handlers.UpdateItemCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.itemHandler.HandleUpdateItem(ctx, cmd)
		return dropPermanent(msg.EventType, err)

	case ChangeItemStatus:
		var cmd handlers.ChangeItemStatusCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.itemHandler.HandleChangeItemStatus(ctx, cmd)
		return dropPermanent(msg.EventType, err)

	case DeleteItem:
		var cmd handlers.DeleteItemCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := p.itemHandler.HandleDeleteItem(ctx, cmd)
		return dropPermanent(msg.EventType, err)

	default:
		log.Warn().Str("eventType", msg.EventType).Msg("Unknown event type")
		return nil
	}
}

// dropPermanent completes messages whose commands can never succeed, so
// they are not redelivered forever. Transient failures are returned and the
// message is abandoned for retry.
func dropPermanent(eventType string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrValidationFailed) ||
		errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, domain.ErrNotFound) {
		log.Error().Err(err).Str("eventType", eventType).Msg("Dropping permanently failed command")
		return nil
	}
	return err
}
