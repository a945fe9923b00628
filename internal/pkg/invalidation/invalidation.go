// Package invalidation broadcasts catalog reloads between instances over
// Redis pub/sub.
package invalidation

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel reload messages travel on.
const DefaultChannel = "plancatalog:catalog:reload"

// Message announces that a tenant's catalog changed.
type Message struct {
	Tenant string `json:"tenant"`
	Origin string `json:"origin"`
}

// Handler reacts to a reload announced by another instance.
type Handler func(ctx context.Context, tenant string)

// Bus publishes and receives reload messages. Messages sent by the bus
// itself are ignored on receipt.
type Bus struct {
	rdb     *redis.Client
	channel string
	origin  string
}

// NewBus creates a bus with a random instance identity.
func NewBus(rdb *redis.Client, channel string) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bus{rdb: rdb, channel: channel, origin: uuid.NewString()}
}

// Origin identifies this instance in published messages.
func (b *Bus) Origin() string {
	return b.origin
}

// Publish announces a reload of tenant.
func (b *Bus) Publish(ctx context.Context, tenant string) error {
	payload, err := json.Marshal(Message{Tenant: tenant, Origin: b.origin})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Listen calls handler for every reload announced by other instances until
// ctx is done.
func (b *Bus) Listen(ctx context.Context, handler Handler) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	log.Infof("[Invalidation] Listening on %s", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("invalidation subscription closed")
			}
			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				log.Warnf("[Invalidation] Ignoring malformed message: %v", err)
				continue
			}
			if m.Origin == b.origin || m.Tenant == "" {
				continue
			}
			log.Debugf("[Invalidation] Reload of %s announced by %s", m.Tenant, m.Origin)
			handler(ctx, m.Tenant)
		}
	}
}
