// Package broadcast pushes mutation results to clients currently viewing a
// board. Delivery is fire-and-forget over one redis channel per board: no
// acknowledgment, no retry, and no ordering guarantee relative to the event
// bus.
package broadcast

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Envelope is the wire shape of every broadcast message.
type Envelope struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// ChannelFor names the redis channel carrying one board's updates.
func ChannelFor(boardID string) string {
	return "board:" + boardID
}

// Broadcaster publishes envelopes to board channels.
type Broadcaster struct {
	redis   *redis.Client
	timeout time.Duration
	logger  *log.Logger
}

// New creates a Broadcaster. timeout bounds each publish so a slow redis
// cannot stall mutation throughput; zero means 2s.
func New(client *redis.Client, timeout time.Duration, logger *log.Logger) *Broadcaster {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Broadcaster{redis: client, timeout: timeout, logger: logger}
}

// Publish sends one envelope to the board's channel.
func (b *Broadcaster) Publish(ctx context.Context, boardID, eventType string, payload any) error {
	if b.redis == nil {
		return nil
	}
	data, err := sonic.Marshal(Envelope{
		Type:      eventType,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.redis.Publish(ctx, ChannelFor(boardID), data).Err()
}

// Subscribe follows a board's channel until ctx is done, sending each raw
// envelope payload to the returned channel. The channel closes when the
// subscription ends.
func (b *Broadcaster) Subscribe(ctx context.Context, boardID string) <-chan []byte {
	out := make(chan []byte, 16)
	if b.redis == nil {
		close(out)
		return out
	}
	sub := b.redis.Subscribe(ctx, ChannelFor(boardID))
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Close(); err != nil {
				b.logger.WithError(err).Debug("close board subscription")
			}
		}()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
