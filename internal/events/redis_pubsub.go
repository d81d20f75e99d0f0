package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisPublisher struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisPublisher(client *redis.Client, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, log: log}
}

// Publish stamps the event with an id and time if unset. Pub/sub is fire and
// forget: a bridge that is down misses the event, the audit log keeps it.
func (p *RedisPublisher) Publish(ctx context.Context, stream string, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	receivers, err := p.client.Publish(ctx, stream, data).Result()
	if err != nil {
		p.log.Warn("failed to publish event", zap.String("stream", stream), zap.String("type", event.Type), zap.Error(err))
		return err
	}
	if receivers == 0 {
		p.log.Debug("event published with no subscribers", zap.String("stream", stream), zap.String("type", event.Type))
	}
	return nil
}

type RedisSubscriber struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisSubscriber(client *redis.Client, log *zap.Logger) *RedisSubscriber {
	return &RedisSubscriber{client: client, log: log}
}

// Subscribe returns once Redis has confirmed the subscription. handler runs
// on a single goroutine until ctx is done.
func (s *RedisSubscriber) Subscribe(ctx context.Context, stream string, handler func(Event)) error {
	pubsub := s.client.Subscribe(ctx, stream)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", stream, err)
	}
	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					s.log.Error("failed to unmarshal event", zap.String("stream", stream), zap.Error(err))
					continue
				}
				s.dispatch(stream, event, handler)
			}
		}
	}()

	return nil
}

func (s *RedisSubscriber) dispatch(stream string, event Event, handler func(Event)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("event handler panicked",
				zap.String("stream", stream), zap.String("type", event.Type), zap.Any("panic", r))
		}
	}()
	handler(event)
}
