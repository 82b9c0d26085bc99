package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisBus publishes events on a Redis channel so every replica of the
// service sees them. Delivery to local subscribers happens only through the
// forwarder, so a replica also receives its own events exactly once.
type RedisBus struct {
	local   *LocalBus
	rdb     *goredis.Client
	channel string
	log     *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRedisBus connects to addr, subscribes to channel and starts forwarding.
func NewRedisBus(ctx context.Context, addr, channel string, log *slog.Logger) (*RedisBus, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if channel == "" {
		channel = "portal-state"
	}
	if log == nil {
		log = slog.Default()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	fwdCtx, cancel := context.WithCancel(context.Background())
	b := &RedisBus{
		local:   NewLocalBus(),
		rdb:     rdb,
		channel: channel,
		log:     log.With("component", "redis_bus"),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if err := b.startForwarder(fwdCtx); err != nil {
		cancel()
		_ = rdb.Close()
		return nil, err
	}
	return b, nil
}

// Publish sends ev to Redis.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	raw, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe registers fn for events forwarded from Redis.
func (b *RedisBus) Subscribe(profileID string, fn Handler) func() {
	return b.local.Subscribe(profileID, fn)
}

// Ping checks the Redis connection.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close stops the forwarder and closes the Redis client.
func (b *RedisBus) Close() error {
	b.cancel()
	<-b.done
	_ = b.local.Close()
	return b.rdb.Close()
}

func (b *RedisBus) startForwarder(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)

	// Ensure the subscription actually started.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer close(b.done)
		defer func() { _ = sub.Close() }()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				ev, err := decodeEvent([]byte(m.Payload))
				if err != nil {
					b.log.Warn("bad event payload", "error", err)
					continue
				}
				if err := b.local.Publish(ctx, ev); err != nil {
					b.log.Debug("local dispatch skipped", "error", err)
				}
			}
		}
	}()
	return nil
}

func encodeEvent(ev Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return raw, nil
}

func decodeEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.ProfileID == "" || ev.Topic == "" {
		return Event{}, fmt.Errorf("decode event: missing profile or topic")
	}
	return ev, nil
}

var (
	_ Bus = (*LocalBus)(nil)
	_ Bus = (*RedisBus)(nil)
)
