package mq

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/cozy-creator/genjobs/internal/config"
)

type PulsarMQ struct {
	client    pulsar.Client
	producers sync.Map
	consumers sync.Map
}

func NewPulsarMQ(config *config.PulsarConfig) (*PulsarMQ, error) {
	client, err := newPulsarClient(config)
	if err != nil {
		return nil, err
	}

	return &PulsarMQ{
		client: client,
	}, nil
}

func (mq *PulsarMQ) Publish(ctx context.Context, topic string, message []byte) error {
	producer, err := mq.getProducer(topic)
	if err != nil {
		return err
	}

	_, err = producer.Send(ctx, &pulsar.ProducerMessage{Payload: message})
	return err
}

// Receive returns the payload of the next message and acknowledges it.
func (mq *PulsarMQ) Receive(ctx context.Context, topic string) ([]byte, error) {
	consumer, err := mq.getConsumer(topic)
	if err != nil {
		return nil, err
	}

	message, err := consumer.Receive(ctx)
	if err != nil {
		return nil, err
	}

	if err := consumer.Ack(message); err != nil {
		return nil, fmt.Errorf("failed to ack message: %w", err)
	}

	return message.Payload(), nil
}

func (mq *PulsarMQ) CloseTopic(topic string) error {
	if producer, ok := mq.producers.LoadAndDelete(topic); ok {
		producer.(pulsar.Producer).Close()
	}

	if consumer, ok := mq.consumers.LoadAndDelete(topic); ok {
		consumer.(pulsar.Consumer).Close()
	}

	return nil
}

func (mq *PulsarMQ) Close() error {
	mq.producers.Range(func(_, producer any) bool {
		producer.(pulsar.Producer).Close()
		return true
	})
	mq.consumers.Range(func(_, consumer any) bool {
		consumer.(pulsar.Consumer).Close()
		return true
	})

	mq.client.Close()
	return nil
}

func (mq *PulsarMQ) getProducer(topic string) (pulsar.Producer, error) {
	if value, ok := mq.producers.Load(topic); ok {
		return value.(pulsar.Producer), nil
	}

	producer, err := mq.client.CreateProducer(pulsar.ProducerOptions{Topic: topic})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer for %s: %w", topic, err)
	}

	if existing, loaded := mq.producers.LoadOrStore(topic, producer); loaded {
		producer.Close()
		return existing.(pulsar.Producer), nil
	}
	return producer, nil
}

func (mq *PulsarMQ) getConsumer(topic string) (pulsar.Consumer, error) {
	if value, ok := mq.consumers.Load(topic); ok {
		return value.(pulsar.Consumer), nil
	}

	consumer, err := mq.client.Subscribe(pulsar.ConsumerOptions{
		Topic:            topic,
		Type:             pulsar.Exclusive,
		SubscriptionName: strings.ReplaceAll(topic, "/", "-"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	if existing, loaded := mq.consumers.LoadOrStore(topic, consumer); loaded {
		consumer.Close()
		return existing.(pulsar.Consumer), nil
	}
	return consumer, nil
}

func newPulsarClient(config *config.PulsarConfig) (pulsar.Client, error) {
	options := pulsar.ClientOptions{
		URL:               config.URL,
		OperationTimeout:  config.OperationTimeout,
		ConnectionTimeout: config.ConnectionTimeout,
	}

	client, err := pulsar.NewClient(options)
	if err != nil {
		return nil, fmt.Errorf("failed to create pulsar client: %w", err)
	}

	return client, nil
}
