package guildsync

import (
	"context"
	"encoding/json"
	"io"

	"bitbucket.org/mmdatafocus/guildsync_backend/config"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const idempotencyHandlerName = "guild-sync"

// PublishChangeEvent puts a change event on the feed topic. Delivery is
// at-least-once and unordered; the engine is written for exactly that.
func PublishChangeEvent(ctx context.Context, ev ChangeEvent) error {
	if ev.GuildId == "" {
		ev.GuildId = config.GetGuildId()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = config.PublishToTopic(ctx, config.GetSyncTopic(), data)
	return err
}

// RunSubscriber starts the pull subscriber in a goroutine, creating the
// topic and subscription when they do not exist yet.
func RunSubscriber(engine *Engine) error {
	logger := engine.Logger
	ctx := context.Background()
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, config.GetSyncTopic())
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, config.GetSyncSubscription(), topic)
	if err != nil {
		return err
	}
	// Specify the number of concurrent processes
	sub.ReceiveSettings.MaxOutstandingMessages = config.GetSyncMaxOutstanding()

	callback := func(ctx context.Context, msg *pubsub.Message) {
		var ev ChangeEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			config.LogError(logger, "pubsub.go", "RunSubscriber", "Unmarshaling pubsub message", msg.Data, err)
			msg.Ack()
			return
		}

		if err := processChangeMessage(ctx, engine, ev, msg.ID); err != nil {
			logger.WithFields(logrus.Fields{
				"module":     "guildsync",
				"entityType": ev.EntityType,
				"operation":  ev.Operation,
				"message_id": msg.ID,
			}).Error("pubsub processing failed: " + err.Error())
			msg.Nack()
			return
		}
		msg.Ack()
	}

	go func() {
		if err := sub.Receive(ctx, callback); err != nil {
			config.LogError(logger, "pubsub.go", "RunSubscriber", "Failed to receive messages", nil, err)
		}
	}()

	return nil
}

// processChangeMessage wraps the engine call with the durable idempotency
// record. The idempotency rows commit in their own short statements so the
// remote API calls never run inside an open transaction.
func processChangeMessage(ctx context.Context, engine *Engine, ev ChangeEvent, messageId string) error {
	db := config.GetDB()
	guildId := ev.GuildId
	if guildId == "" {
		guildId = engine.GuildId
	}

	skip, err := BeginIdempotency(db.WithContext(ctx), guildId, idempotencyHandlerName, messageId)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	if err := engine.HandleChangeEvent(ctx, ev); err != nil {
		_ = MarkIdempotencyFailed(db.WithContext(ctx), guildId, idempotencyHandlerName, messageId, err)
		return err
	}
	return MarkIdempotencySucceeded(db.WithContext(ctx), guildId, idempotencyHandlerName, messageId)
}

// PubSubPushHandler accepts push-style deliveries from the broker. A 204
// acks; any other status causes redelivery, which processChangeMessage
// already tolerates.
func PubSubPushHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.EnvBoolDefault("ENABLE_GUILD_SYNC_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var ev ChangeEvent
		if err := json.Unmarshal(envelope.Message.Data, &ev); err != nil {
			c.Status(204)
			return
		}

		if err := processChangeMessage(c.Request.Context(), engine, ev, envelope.Message.ID); err != nil {
			c.Status(500)
			return
		}
		c.Status(204)
	}
}
