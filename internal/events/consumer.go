package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"genboard/engine/internal/config"
	"genboard/engine/internal/models"
)

// Handler routes decoded asset events into the engine.
type Handler interface {
	HandleEvent(ctx context.Context, event models.AssetEvent) error
}

// Consumer reads the job backend's push notifications from a redis stream
// using a consumer group, so delivery survives restarts and redeliveries are
// acked exactly once after handling.
type Consumer struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	claimInterval time.Duration
	logger        zerolog.Logger
	handler       Handler
}

func NewConsumer(client *redis.Client, cfg config.EventsConfig, logger zerolog.Logger, handler Handler) *Consumer {
	return &Consumer{
		client:        client,
		stream:        cfg.Stream,
		group:         cfg.Group,
		consumer:      "engine-" + uuid.NewString(),
		claimInterval: cfg.ClaimInterval,
		logger:        logger,
		handler:       handler,
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(c.claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.read(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error().Err(err).Msg("stream read error")
				time.Sleep(2 * time.Second)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.reclaim(ctx)
		default:
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (c *Consumer) read(ctx context.Context) error {
	result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    10,
		Block:    5 * time.Second,
	}).Result()
	if err != nil && err != redis.Nil {
		return err
	}

	for _, stream := range result {
		for _, msg := range stream.Messages {
			if err := c.handleMessage(ctx, msg); err != nil {
				c.logger.Error().
					Err(err).
					Str("message_id", msg.ID).
					Msg("handle event failed")
				continue
			}
			if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
				c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("ack failed")
			}
		}
	}
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg redis.XMessage) error {
	event, err := DecodeEvent(msg.Values)
	if err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return c.handler.HandleEvent(ctx, event)
}

func (c *Consumer) reclaim(ctx context.Context) {
	if err := c.claimStalled(ctx); err != nil && ctx.Err() == nil {
		c.logger.Error().Err(err).Msg("claim pending failed")
	}
}

func (c *Consumer) claimStalled(ctx context.Context) error {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	if err != nil {
		return err
	}

	for _, entry := range pending {
		if entry.Idle < c.claimInterval {
			continue
		}
		msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.claimInterval,
			Messages: []string{entry.ID},
		}).Result()
		if err != nil {
			c.logger.Error().Err(err).Msg("claim error")
			continue
		}
		for _, msg := range msgs {
			if err := c.handleMessage(ctx, msg); err != nil {
				c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("handle claimed event failed")
				continue
			}
			if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
				c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("ack claimed failed")
			}
		}
	}
	return nil
}

// DecodeEvent maps stream entry values onto an AssetEvent. Stream values are
// flat strings; modelMeta arrives as a JSON object.
func DecodeEvent(values map[string]interface{}) (models.AssetEvent, error) {
	var event models.AssetEvent

	str := func(key string) string {
		if raw, ok := values[key]; ok {
			if s, ok := raw.(string); ok {
				return s
			}
		}
		return ""
	}

	event.EventType = models.EventType(str("eventType"))
	event.AssetID = str("assetId")
	event.JobID = str("jobId")
	event.OwnerID = str("ownerId")
	event.Status = models.AssetStatus(str("status"))
	event.AssetType = models.AssetType(str("assetType"))
	event.Quality = models.Quality(str("quality"))
	event.StorageRef = str("storageRef")
	event.ThumbRef = str("thumbRef")
	event.Prompt = str("prompt")

	if raw := str("declaredOutputCount"); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return event, fmt.Errorf("declaredOutputCount %q: %w", raw, err)
		}
		event.DeclaredOutputCount = count
	}

	if raw := str("modelMeta"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &event.ModelMeta); err != nil {
			return event, fmt.Errorf("modelMeta: %w", err)
		}
	}

	if event.EventType == "" {
		return event, fmt.Errorf("missing eventType")
	}
	if event.AssetID == "" && event.JobID == "" {
		return event, fmt.Errorf("missing assetId and jobId")
	}

	return event, nil
}
