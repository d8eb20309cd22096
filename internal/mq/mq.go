package mq

import (
	"context"
	"errors"

	"github.com/cozy-creator/genjobs/internal/config"
)

var (
	ErrTopicNotExists = errors.New("topic does not exist")
	ErrQueueFull      = errors.New("queue is full")
	ErrQueueClosed    = errors.New("queue closed")
	ErrTopicClosed    = errors.New("topic closed")
)

const (
	MQTypeInMemory = "inmemory"
	MQTypePulsar   = "pulsar"
)

// MQ carries job events from the registry to stream subscribers. Each job
// publishes to its own topic, which is closed after the terminal event.
type MQ interface {
	Publish(ctx context.Context, topic string, message []byte) error
	Receive(ctx context.Context, topic string) ([]byte, error)
	CloseTopic(topic string) error
	Close() error
}

func NewMQ(cfg *config.Config) (MQ, error) {
	if cfg.Pulsar != nil && cfg.Pulsar.URL != "" {
		return NewPulsarMQ(cfg.Pulsar)
	}

	return NewInMemoryMQ(cfg.Events.Buffer)
}
