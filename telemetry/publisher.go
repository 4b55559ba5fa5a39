/*
Package telemetry publishes gateway usage events to a message bus.

Delivery is fire-and-forget: a publish never blocks the request that
triggered it and a failed publish only surfaces in the application log.
*/
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/assesshub/gateway/logging"
)

// DefaultChannel is the bus channel used when none is configured.
const DefaultChannel = "gateway.events"

const publishTimeout = 5 * time.Second

// Event is a single usage event, e.g. a hit on the version probe.
type Event struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Version int       `json:"version,omitempty"`
	Time    time.Time `json:"time"`
}

// Publisher delivers events to the bus. Implementations must not
// block the caller.
type Publisher interface {
	Publish(Event)
}

// Options to initialize a redis backed publisher.
type Options struct {
	// Addr is the address of the redis instance acting as the
	// message bus.
	Addr string

	// Channel is the pub/sub channel events are published on.
	Channel string

	// Log is used to report failed deliveries. Defaults to the
	// application log.
	Log logging.Logger
}

// RedisPublisher publishes events on a redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	log     logging.Logger
}

// NewRedisPublisher returns a publisher connected to the configured
// redis instance.
func NewRedisPublisher(o Options) *RedisPublisher {
	if o.Channel == "" {
		o.Channel = DefaultChannel
	}

	if o.Log == nil {
		o.Log = &logging.DefaultLog{}
	}

	return &RedisPublisher{
		client:  redis.NewClient(&redis.Options{Addr: o.Addr}),
		channel: o.Channel,
		log:     o.Log,
	}
}

// Publish delivers e on the configured channel without waiting for
// the delivery to complete.
func (p *RedisPublisher) Publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.Errorf("failed to encode telemetry event: %v", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
			p.log.Debugf("failed to publish telemetry event: %v", err)
		}
	}()
}

// Close releases the underlying redis connection pool.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Nop is a Publisher discarding all events.
var Nop Publisher = nopPublisher{}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
