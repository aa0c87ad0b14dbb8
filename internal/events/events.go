// Package events publishes punch events to a local message broker so
// other on-premise systems (attendance displays, door controllers) can
// react without polling the device API. The feed is best-effort; the
// sync worker, not the broker, owns delivery to the central server.
package events

import (
	"context"
	"fmt"

	"github.com/checador/device/config"
)

// Backend defines the broker-agnostic publish operations used by the
// device. The device only produces events; it never consumes.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// Feed wraps a backend with a stable API.
type Feed struct {
	backend Backend
	channel string
}

// New constructs a Feed for the provided backend and default channel.
func New(backend Backend, channel string) *Feed {
	return &Feed{backend: backend, channel: channel}
}

// Open constructs the Feed for the configured backend; a nil feed is
// returned when the event feed is disabled.
func Open(ctx context.Context, cfg config.EventsConfig) (*Feed, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "rabbitmq":
		client, err := NewRabbitMQClient(cfg.Rabbit)
		if err != nil {
			return nil, err
		}
		return New(client, cfg.Channel), nil
	case "pubsub":
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return New(client, cfg.Channel), nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

// Publish sends an event to the named channel, or the default channel
// when name is empty.
func (f *Feed) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if channel == "" {
		channel = f.channel
	}
	if channel == "" {
		return "", fmt.Errorf("event channel is required")
	}
	return f.backend.Publish(ctx, channel, data, attrs)
}

// Close closes the underlying backend.
func (f *Feed) Close() error {
	return f.backend.Close()
}
