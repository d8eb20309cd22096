package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cozy-creator/genjobs/internal/mq"
	"github.com/cozy-creator/genjobs/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleJob(status types.JobStatus) types.Job {
	submitted := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	job := types.Job{
		GenerationID: "3f1c3a1e-8d5b-4b7e-9a51-0d6f1f2a9c11",
		Status:       status,
		ModelType:    types.ModelTypeTextToImage,
		Prompt:       "a red fox",
		Parameters:   map[string]any{"width": int64(512)},
		SubmittedAt:  submitted,
	}
	if status.Terminal() {
		finished := submitted.Add(time.Minute)
		job.FinishedAt = &finished
		job.Result = &types.GenerationResponse{
			Success:      true,
			Data:         json.RawMessage(`{"images":["fox.png"]}`),
			GenerationID: job.GenerationID,
		}
	}
	return job
}

func TestEncodeDecode(t *testing.T) {
	job := sampleJob(types.JobStatusCompleted)

	data, err := Encode(job)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, job.GenerationID, decoded.GenerationID)
	assert.Equal(t, job.Status, decoded.Status)
	assert.True(t, job.SubmittedAt.Equal(decoded.SubmittedAt))
	require.NotNil(t, decoded.FinishedAt)
	assert.True(t, job.FinishedAt.Equal(*decoded.FinishedAt))
	require.NotNil(t, decoded.Result)
	assert.JSONEq(t, `{"images":["fox.png"]}`, string(decoded.Result.Data))
	assert.EqualValues(t, 512, decoded.Parameters["width"])

	_, err = Decode([]byte{0xc1})
	assert.Error(t, err)
}

func TestPublisherStreamsUntilTerminal(t *testing.T) {
	queue, err := mq.NewInMemoryMQ(8)
	require.NoError(t, err)
	defer queue.Close()

	publisher := NewPublisher(queue, "genjobs-events", nil)
	job := sampleJob(types.JobStatusSubmitted)
	assert.Equal(t, "genjobs-events-"+job.GenerationID, publisher.Topic(job.GenerationID))

	publisher.OnTransition(job)
	publisher.OnTransition(sampleJob(types.JobStatusRunning))
	publisher.OnTransition(sampleJob(types.JobStatusCompleted))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var statuses []types.JobStatus
	for {
		event, err := publisher.Next(ctx, job.GenerationID)
		if err != nil {
			assert.ErrorIs(t, err, mq.ErrTopicClosed)
			break
		}
		statuses = append(statuses, event.Status)
	}

	assert.Equal(t, []types.JobStatus{types.JobStatusSubmitted, types.JobStatusRunning, types.JobStatusCompleted}, statuses)
}
