// Package redis mirrors fight changes into Redis so that other server
// instances and out-of-process readers can follow the round.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/usecase"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/logger"
)

const (
	StateKey       = "espuela:fight:state"
	DefaultChannel = "espuela:fight:changed"
)

// StateReader is the read side of the fight engine
type StateReader interface {
	GetRoundState(ctx context.Context) (*usecase.RoundState, error)
}

// ChangeMessage is what goes over the channel. It carries no state;
// receivers re-read it.
type ChangeMessage struct {
	Type      string `json:"type"`
	Origin    string `json:"origin"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster writes a state snapshot and publishes a change signal
// every time the local engine commits a mutation.
type Broadcaster struct {
	client  *redis.Client
	channel string
	origin  string
	state   StateReader
	ttl     time.Duration
}

// NewBroadcaster creates a broadcaster. An empty channel selects DefaultChannel.
func NewBroadcaster(client *redis.Client, channel string, state StateReader) *Broadcaster {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Broadcaster{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		state:   state,
		ttl:     24 * time.Hour,
	}
}

// Origin identifies this instance in published messages
func (b *Broadcaster) Origin() string {
	return b.origin
}

// Observe is registered with the change notifier. Failures are logged;
// the engine has already committed.
func (b *Broadcaster) Observe(ctx context.Context) {
	st, err := b.state.GetRoundState(ctx)
	if err != nil {
		logger.Error(ctx).Err(err).Msg("redis broadcaster: read state failed")
		return
	}
	snapshot, err := json.Marshal(st)
	if err != nil {
		logger.Error(ctx).Err(err).Msg("redis broadcaster: marshal state failed")
		return
	}
	msg, _ := json.Marshal(ChangeMessage{
		Type:      "changed",
		Origin:    b.origin,
		Timestamp: time.Now().UnixMilli(),
	})

	pipe := b.client.Pipeline()
	pipe.Set(ctx, StateKey, snapshot, b.ttl)
	pipe.Publish(ctx, b.channel, msg)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn(ctx).Err(err).Str("channel", b.channel).Msg("redis broadcaster: publish failed")
	}
}

// Snapshot returns the last state written by any instance
func (b *Broadcaster) Snapshot(ctx context.Context) (*usecase.RoundState, error) {
	val, err := b.client.Get(ctx, StateKey).Bytes()
	if err != nil {
		return nil, err
	}
	var st usecase.RoundState
	if err := json.Unmarshal(val, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Listen relays change signals published by other instances to fn until
// ctx is done. Signals from this instance are skipped because the local
// notifier already delivered them.
func (b *Broadcaster) Listen(ctx context.Context, fn func(ctx context.Context)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg ChangeMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				logger.Warn(ctx).Err(err).Msg("redis broadcaster: bad message")
				continue
			}
			if msg.Origin == b.origin {
				continue
			}
			fn(ctx)
		}
	}
}
