package events

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cozy-creator/genjobs/internal/mq"
	"github.com/cozy-creator/genjobs/internal/types"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Publisher forwards job transitions to a per-job topic. It is registered as
// a registry observer.
type Publisher struct {
	queue  mq.MQ
	prefix string
	logger *zap.Logger
}

func NewPublisher(queue mq.MQ, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Publisher{queue: queue, prefix: prefix, logger: logger}
}

func (p *Publisher) Topic(generationID string) string {
	return p.prefix + "-" + generationID
}

func (p *Publisher) OnTransition(job types.Job) {
	topic := p.Topic(job.GenerationID)

	data, err := Encode(job)
	if err != nil {
		p.logger.Error("failed to encode job event", zap.String("generation_id", job.GenerationID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.queue.Publish(ctx, topic, data); err != nil {
		p.logger.Warn("failed to publish job event",
			zap.String("generation_id", job.GenerationID),
			zap.String("status", string(job.Status)),
			zap.Error(err),
		)
	}

	if job.Status.Terminal() {
		if err := p.queue.CloseTopic(topic); err != nil {
			p.logger.Debug("failed to close job topic", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// Next blocks for the next transition of the job.
func (p *Publisher) Next(ctx context.Context, generationID string) (types.Job, error) {
	data, err := p.queue.Receive(ctx, p.Topic(generationID))
	if err != nil {
		return types.Job{}, err
	}

	return Decode(data)
}

// Release drops the job's topic once nobody is listening any more.
func (p *Publisher) Release(generationID string) {
	p.queue.CloseTopic(p.Topic(generationID))
}

// Encode serialises a job snapshot as msgpack using the json field names.
func Encode(job types.Job) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.SetSortMapKeys(true)

	if err := enc.Encode(&job); err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}

	return buf.Bytes(), nil
}

func Decode(data []byte) (types.Job, error) {
	var job types.Job
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")

	if err := dec.Decode(&job); err != nil {
		return types.Job{}, fmt.Errorf("failed to decode job: %w", err)
	}

	return job, nil
}
