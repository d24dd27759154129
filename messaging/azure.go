package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"example.com/tradepost/services/item/config"
)

const (
	// sessionBatchSize bounds how many command messages one receive pulls.
	sessionBatchSize = 10

	// Accept failures back off exponentially between these bounds instead
	// of tearing the consumer down.
	acceptBackoffMin = time.Second
	acceptBackoffMax = 30 * time.Second

	closeTimeout = 5 * time.Second
)

// AzureClient consumes command messages from a session-enabled Service Bus
// queue and dispatches them to a MessageProcessor.
type AzureClient struct {
	client *azservicebus.Client
	queue  string
}

func NewAzureClient(cfg config.Config) (*AzureClient, error) {
	client, err := azservicebus.NewClientFromConnectionString(cfg.AzureQueueConnStr, nil)
	if err != nil {
		return nil, err
	}

	return &AzureClient{client: client, queue: cfg.AzureCommandQueueName}, nil
}

// Run accepts sessions until ctx is cancelled. Each accepted session is
// drained on its own goroutine; transport errors while accepting are
// retried with backoff.
func (a *AzureClient) Run(ctx context.Context, processor MessageProcessor) error {
	log.Info().Str("queue", a.queue).Msg("Starting command queue consumer")

	backoff := acceptBackoffMin
	for {
		receiver, err := a.client.AcceptNextSessionForQueue(ctx, a.queue, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				log.Debug().Str("queue", a.queue).Msg("No session available")
				continue
			}

			log.Error().Err(err).Str("queue", a.queue).Dur("backoff", backoff).Msg("Failed to accept session")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > acceptBackoffMax {
				backoff = acceptBackoffMax
			}
			continue
		}
		backoff = acceptBackoffMin

		log.Info().Str("queue", a.queue).Str("session", receiver.SessionID()).Msg("Session accepted")
		go a.handleSession(ctx, receiver, processor)
	}
}

// handleSession drains one session. A failed command is abandoned back to
// the queue for redelivery; the processor decides which failures are
// permanent and completes those itself.
func (a *AzureClient) handleSession(ctx context.Context, receiver *azservicebus.SessionReceiver, processor MessageProcessor) {
	sessionID := receiver.SessionID()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := receiver.Close(closeCtx); err != nil {
			log.Error().Err(err).Str("session", sessionID).Msg("Failed to close session")
		}
	}()

	for {
		messages, err := receiver.ReceiveMessages(ctx, sessionBatchSize, nil)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("session", sessionID).Msg("Failed to receive messages")
			}
			return
		}
		if len(messages) == 0 {
			// Session drained.
			return
		}

		log.Info().Int("count", len(messages)).Str("session", sessionID).Msg("Received command messages")

		for _, message := range messages {
			if err := processor.ProcessMessage(ctx, message); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Str("session", sessionID).Msg("Command failed, returning message to queue")
				if err := receiver.AbandonMessage(ctx, message, nil); err != nil {
					log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to abandon message")
				}
				continue
			}

			if err := receiver.CompleteMessage(ctx, message, nil); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to complete message")
			}
		}
	}
}
