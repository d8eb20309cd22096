package mq

import (
	"context"
	"sync"
	"time"
)

// Closed topics are remembered for this long so that late receivers see
// ErrTopicClosed instead of waiting on a fresh topic.
const closedTopicTTL = time.Minute

type memoryTopic struct {
	mu       sync.Mutex
	ch       chan []byte
	closed   bool
	closedAt time.Time
}

type InMemoryMQ struct {
	maxSize int

	mu     sync.Mutex
	topics map[string]*memoryTopic

	closeCh   chan struct{}
	closeOnce sync.Once
}

func NewInMemoryMQ(maxSize int) (*InMemoryMQ, error) {
	if maxSize <= 0 {
		maxSize = 10
	}

	return &InMemoryMQ{
		maxSize: maxSize,
		topics:  make(map[string]*memoryTopic),
		closeCh: make(chan struct{}),
	}, nil
}

func (q *InMemoryMQ) topic(name string) *memoryTopic {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t, ok := q.topics[name]; ok {
		return t
	}

	q.pruneLocked(time.Now())
	t := &memoryTopic{ch: make(chan []byte, q.maxSize)}
	q.topics[name] = t
	return t
}

func (q *InMemoryMQ) pruneLocked(now time.Time) {
	for name, t := range q.topics {
		t.mu.Lock()
		expired := t.closed && now.Sub(t.closedAt) > closedTopicTTL
		t.mu.Unlock()

		if expired {
			delete(q.topics, name)
		}
	}
}

func (q *InMemoryMQ) isClosed() bool {
	select {
	case <-q.closeCh:
		return true
	default:
		return false
	}
}

func (q *InMemoryMQ) Publish(ctx context.Context, topic string, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if q.isClosed() {
		return ErrQueueClosed
	}

	t := q.topic(topic)
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTopicClosed
	}

	select {
	case t.ch <- message:
		return nil
	default:
		return ErrQueueFull
	}
}

// Receive blocks for the next message. Messages published before the topic
// was closed are still delivered; after that ErrTopicClosed is returned.
func (q *InMemoryMQ) Receive(ctx context.Context, topic string) ([]byte, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}

	t := q.topic(topic)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.closeCh:
		return nil, ErrQueueClosed
	case data, ok := <-t.ch:
		if !ok {
			return nil, ErrTopicClosed
		}
		return data, nil
	}
}

func (q *InMemoryMQ) CloseTopic(topic string) error {
	q.mu.Lock()
	t, ok := q.topics[topic]
	q.mu.Unlock()

	if !ok {
		return ErrTopicNotExists
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		t.closed = true
		t.closedAt = time.Now()
		close(t.ch)
	}
	return nil
}

func (q *InMemoryMQ) Close() error {
	q.closeOnce.Do(func() { close(q.closeCh) })
	return nil
}
