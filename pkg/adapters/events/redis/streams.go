package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ametller/crewd/pkg/ports"
)

// StreamsEventBus implements EventBus over Redis Streams. Each topic maps
// to one stream; subscribers read through a consumer group so multiple
// crewd instances share the load without duplicate delivery.
type StreamsEventBus struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	consumerName  string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewStreamsEventBus creates a Redis Streams event bus.
func NewStreamsEventBus(client *redis.Client, consumerGroup, consumerName string, logger *zap.Logger) *StreamsEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamsEventBus{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		cancels:       make(map[string]context.CancelFunc),
	}
}

// Publish appends the event to the topic's stream.
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey(topic),
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("topic", topic))
	return nil
}

// Subscribe starts a background reader delivering the topic's events to
// the handler until Unsubscribe or Close.
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	key := streamKey(topic)

	err := e.client.XGroupCreateMkStream(ctx, key, e.consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	if prev, ok := e.cancels[topic]; ok {
		prev()
	}
	e.cancels[topic] = cancel
	e.mu.Unlock()

	e.logger.Info("subscribed to event stream",
		zap.String("topic", topic),
		zap.String("consumer_group", e.consumerGroup),
		zap.String("consumer", e.consumerName))

	go e.readStream(readCtx, key, handler)
	return nil
}

func (e *StreamsEventBus) readStream(ctx context.Context, key string, handler ports.EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			streams, err := e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    e.consumerGroup,
				Consumer: e.consumerName,
				Streams:  []string{key, ">"},
				Count:    10,
				Block:    time.Second,
			}).Result()

			if err != nil {
				if err == redis.Nil || ctx.Err() != nil {
					continue
				}
				e.logger.Error("failed to read from stream",
					zap.String("stream", key),
					zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					e.processMessage(ctx, key, message, handler)
				}
			}
		}
	}
}

func (e *StreamsEventBus) processMessage(ctx context.Context, key string, message redis.XMessage, handler ports.EventHandler) {
	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", key),
			zap.String("message_id", message.ID))
		return
	}

	var event ports.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", key),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := handler(ctx, event); err != nil {
		e.logger.Error("handler error",
			zap.String("stream", key),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := e.client.XAck(ctx, key, e.consumerGroup, message.ID).Err(); err != nil {
		e.logger.Error("failed to acknowledge message",
			zap.String("stream", key),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// Unsubscribe stops the background reader for a topic. Consumer group
// state is left in place for other instances.
func (e *StreamsEventBus) Unsubscribe(_ context.Context, topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.cancels[topic]; ok {
		cancel()
		delete(e.cancels, topic)
	}
	return nil
}

// Close stops every background reader. The Redis client is owned by the
// caller and is not closed here.
func (e *StreamsEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for topic, cancel := range e.cancels {
		cancel()
		delete(e.cancels, topic)
	}
	return nil
}

func streamKey(topic string) string {
	return fmt.Sprintf("crewd:events:%s", topic)
}
