package livesync

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const fanoutChannel = "danetable:updates"

// RedisFanout relays table updates between instances that share a data set
// behind separate processes. Each instance tags its messages with an origin
// id and ignores its own.
type RedisFanout struct {
	client *redis.Client
	origin string
	logger *zap.Logger
}

type fanoutMessage struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

func NewRedisFanout(redisURL string, logger *zap.Logger) (*RedisFanout, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisFanout{
		client: client,
		origin: randomOrigin(),
		logger: logger,
	}, nil
}

// Publish sends a local update to the other instances.
func (f *RedisFanout) Publish(ctx context.Context, data json.RawMessage) error {
	payload, err := json.Marshal(fanoutMessage{Origin: f.origin, Data: data})
	if err != nil {
		return fmt.Errorf("marshal fanout message: %w", err)
	}
	if err := f.client.Publish(ctx, fanoutChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	return nil
}

// Run subscribes to the fanout channel and applies foreign updates until ctx
// is done. apply receives the table document from the other instance.
func (f *RedisFanout) Run(ctx context.Context, apply func(json.RawMessage)) {
	pubsub := f.client.Subscribe(ctx, fanoutChannel)
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			var payload fanoutMessage
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				f.logger.Warn("malformed fanout message", zap.Error(err))
				continue
			}
			if payload.Origin == f.origin {
				continue
			}
			apply(payload.Data)
		}
	}
}

func (f *RedisFanout) Close() error {
	return f.client.Close()
}

func (f *RedisFanout) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func randomOrigin() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
