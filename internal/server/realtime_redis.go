package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	errMissingRedisAddress = errors.New("redis address is required")
	errMissingRedisChannel = errors.New("redis channel is required")
	errRedisBusClosed      = errors.New("redis bus not initialized")
)

// RedisBusConfig configures the cross-instance change bus.
type RedisBusConfig struct {
	Address     string
	Channel     string
	DialTimeout time.Duration
	Logger      *zap.Logger
}

// RedisBus carries realtime messages between API instances over Redis pub/sub.
type RedisBus struct {
	client  *goredis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisBus connects and pings Redis before returning.
func NewRedisBus(ctx context.Context, cfg RedisBusConfig) (*RedisBus, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		return nil, errMissingRedisAddress
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		return nil, errMissingRedisChannel
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:        address,
		DialTimeout: dialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{client: client, channel: channel, logger: logger}, nil
}

// Publish sends message to every instance subscribed to the channel.
func (b *RedisBus) Publish(ctx context.Context, message RealtimeMessage) error {
	if b == nil || b.client == nil {
		return errRedisBusClosed
	}
	raw, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, raw).Err()
}

// Forward subscribes to the channel and hands each decoded message to onMessage until ctx ends.
func (b *RedisBus) Forward(ctx context.Context, onMessage func(RealtimeMessage)) error {
	if b == nil || b.client == nil {
		return errRedisBusClosed
	}
	if onMessage == nil {
		return errors.New("forward callback required")
	}

	subscription := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = subscription.Close() }()
	if _, err := subscription.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	messages := subscription.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case received, ok := <-messages:
			if !ok || received == nil {
				return nil
			}
			message, err := decodeRealtimeMessage(received.Payload)
			if err != nil {
				b.logger.Warn("bad realtime bus payload", zap.Error(err))
				continue
			}
			onMessage(message)
		}
	}
}

// Close releases the Redis connection pool.
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

func decodeRealtimeMessage(payload string) (RealtimeMessage, error) {
	var message RealtimeMessage
	if err := json.Unmarshal([]byte(payload), &message); err != nil {
		return RealtimeMessage{}, err
	}
	if message.EventType == "" {
		return RealtimeMessage{}, errors.New("realtime message without event type")
	}
	return message, nil
}
