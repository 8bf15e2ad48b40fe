package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"grinder/pkg/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ResultsChannel is the pub/sub channel finished dispatches are announced on.
const ResultsChannel = "grinder:results"

// Reporter announces finished dispatches. Publishing is best effort; the
// store keeps the authoritative copy.
type Reporter interface {
	Publish(ctx context.Context, r *model.Result) error
	Close() error
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

type RedisReporter struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisReporter(opts RedisOptions, log *zap.Logger) (*RedisReporter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            opts.Addr,
		Password:        opts.Password,
		DB:              opts.DB,
		DisableIdentity: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Connected to Redis", zap.String("addr", opts.Addr))
	return &RedisReporter{client: client, log: log}, nil
}

func (r *RedisReporter) Publish(ctx context.Context, res *model.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return r.client.Publish(ctx, ResultsChannel, data).Err()
}

// Subscribe calls fn for every result published until ctx is done.
// Malformed messages are logged and dropped.
func (r *RedisReporter) Subscribe(ctx context.Context, fn func(*model.Result)) error {
	sub := r.client.Subscribe(ctx, ResultsChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", ResultsChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("results subscription closed")
			}
			res, err := Decode(msg.Payload)
			if err != nil {
				r.log.Warn("dropping malformed result", zap.Error(err))
				continue
			}
			fn(res)
		}
	}
}

func (r *RedisReporter) Close() error {
	return r.client.Close()
}

// Decode parses one published result.
func Decode(payload string) (*model.Result, error) {
	var res model.Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if res.DispatchID == "" {
		return nil, errors.New("decode result: missing dispatch id")
	}
	return &res, nil
}

// Nop discards every result. Used when Redis is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, *model.Result) error { return nil }
func (Nop) Close() error { return nil }
