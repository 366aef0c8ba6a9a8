package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// channelPrefix префикс pub/sub-канала комнаты в Redis.
const channelPrefix = "holst:room:"

// Redis межпроцессная шина поверх Redis pub/sub: один канал на комнату.
// Переподписку после обрыва соединения go-redis выполняет сам.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis создает шину поверх существующего клиента Redis.
// Соединение проверяется сразу.
func NewRedis(ctx context.Context, client *redis.Client, logger *slog.Logger) (*Redis, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Redis{
		client: client,
		logger: logger,
	}, nil
}

// Publish рассылает конверт через канал комнаты.
func (r *Redis) Publish(ctx context.Context, roomID string, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := r.client.Publish(ctx, channelPrefix+roomID, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to room %s: %w", roomID, err)
	}
	return nil
}

type redisSub struct {
	pubsub *redis.PubSub
	ch     chan *Envelope
	once   sync.Once
}

func (s *redisSub) C() <-chan *Envelope { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}

// Subscribe подписывает на канал комнаты.
func (r *Redis) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channelPrefix+roomID)

	// Дожидаемся подтверждения подписки, чтобы не потерять конверты,
	// опубликованные сразу после возврата.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to room %s: %w", roomID, err)
	}

	sub := &redisSub{
		pubsub: pubsub,
		ch:     make(chan *Envelope, 64),
	}

	go func() {
		defer close(sub.ch)
		for msg := range pubsub.Channel() {
			env := &Envelope{}
			if err := json.Unmarshal([]byte(msg.Payload), env); err != nil {
				r.logger.Warn("failed to unmarshal bus envelope",
					"room_id", roomID, "error", err)
				continue
			}
			select {
			case sub.ch <- env:
			default:
				// Медленный получатель: конверт теряется, комната
				// доедет до консистентного состояния обычным слиянием.
				r.logger.Warn("bus subscriber lagging, envelope dropped",
					"room_id", roomID)
			}
		}
	}()

	return sub, nil
}

// Close закрывает клиент Redis.
func (r *Redis) Close() error {
	return r.client.Close()
}
