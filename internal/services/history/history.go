package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cozy-creator/genjobs/internal/db/models"
	"github.com/cozy-creator/genjobs/internal/db/repository"
	"github.com/cozy-creator/genjobs/internal/types"
	"github.com/cozy-creator/genjobs/internal/utils/hashutil"
	"github.com/uptrace/bun"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// Entry is a recorded generation as exposed to clients.
type Entry struct {
	GenerationID string                    `json:"generation_id"`
	Status       types.JobStatus           `json:"status"`
	ModelType    types.ModelType           `json:"model_type"`
	Prompt       string                    `json:"prompt"`
	ModelName    string                    `json:"model_name,omitempty"`
	LoraName     string                    `json:"lora_name,omitempty"`
	Parameters   map[string]any            `json:"parameters,omitempty"`
	InputHash    string                    `json:"input_hash"`
	Result       *types.GenerationResponse `json:"result,omitempty"`
	ErrorKind    string                    `json:"error_kind,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
	StartedAt    *time.Time                `json:"started_at,omitempty"`
	CompletedAt  *time.Time                `json:"completed_at,omitempty"`
}

// Recorder persists every job transition. It is registered as a registry
// observer.
type Recorder struct {
	repo   repository.IGenerationRepository
	logger *zap.Logger
}

func NewRecorder(repo repository.IGenerationRepository, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Recorder{repo: repo, logger: logger}
}

func (r *Recorder) OnTransition(job types.Job) {
	generation, err := ToModel(job)
	if err != nil {
		r.logger.Error("failed to build history record", zap.String("generation_id", job.GenerationID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := r.repo.Upsert(ctx, generation); err != nil {
		r.logger.Error("failed to record generation", zap.String("generation_id", job.GenerationID), zap.Error(err))
	}
}

func (r *Recorder) Get(ctx context.Context, id string) (*Entry, error) {
	generation, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return FromModel(generation)
}

func (r *Recorder) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	generations, err := r.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	return fromModels(generations)
}

// ListByInputHash returns every recorded generation whose request encodes to
// the same input hash, newest first.
func (r *Recorder) ListByInputHash(ctx context.Context, hash string) ([]Entry, error) {
	generations, err := r.repo.ListByInputHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	return fromModels(generations)
}

func fromModels(generations []models.Generation) ([]Entry, error) {
	entries := make([]Entry, 0, len(generations))
	for i := range generations {
		entry, err := FromModel(&generations[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	return entries, nil
}

// EncodeInput serialises the request portion of a job. Map keys are sorted
// so identical requests produce identical bytes and hashes.
func EncodeInput(job types.Job) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)

	input := types.GenerationRequest{
		ModelType:  string(job.ModelType),
		Prompt:     job.Prompt,
		Parameters: job.Parameters,
		ModelName:  job.ModelName,
		LoraName:   job.LoraName,
	}
	if err := enc.Encode(&input); err != nil {
		return nil, fmt.Errorf("failed to encode input: %w", err)
	}

	return buf.Bytes(), nil
}

func ToModel(job types.Job) (*models.Generation, error) {
	input, err := EncodeInput(job)
	if err != nil {
		return nil, err
	}

	generation := &models.Generation{
		ID:        job.GenerationID,
		Status:    string(job.Status),
		ModelType: string(job.ModelType),
		Prompt:    job.Prompt,
		ModelName: job.ModelName,
		LoraName:  job.LoraName,
		Input:     input,
		InputHash: hashutil.Blake3Hash(input),
		ErrorKind: job.ErrorKind,
		CreatedAt: job.SubmittedAt,
	}

	if job.StartedAt != nil {
		generation.StartedAt = bun.NullTime{Time: *job.StartedAt}
	}
	if job.FinishedAt != nil {
		generation.CompletedAt = bun.NullTime{Time: *job.FinishedAt}
	}

	if job.Result != nil {
		result, err := json.Marshal(job.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result: %w", err)
		}
		generation.Result = string(result)
	}

	return generation, nil
}

func FromModel(generation *models.Generation) (*Entry, error) {
	var input types.GenerationRequest
	if err := msgpack.Unmarshal(generation.Input, &input); err != nil {
		return nil, fmt.Errorf("failed to decode input of %s: %w", generation.ID, err)
	}

	entry := &Entry{
		GenerationID: generation.ID,
		Status:       types.JobStatus(generation.Status),
		ModelType:    types.ModelType(generation.ModelType),
		Prompt:       generation.Prompt,
		ModelName:    generation.ModelName,
		LoraName:     generation.LoraName,
		Parameters:   input.Parameters,
		InputHash:    generation.InputHash,
		ErrorKind:    generation.ErrorKind,
		CreatedAt:    generation.CreatedAt,
	}

	if !generation.StartedAt.IsZero() {
		started := generation.StartedAt.Time
		entry.StartedAt = &started
	}
	if !generation.CompletedAt.IsZero() {
		completed := generation.CompletedAt.Time
		entry.CompletedAt = &completed
	}

	if generation.Result != "" {
		var result types.GenerationResponse
		if err := json.Unmarshal([]byte(generation.Result), &result); err != nil {
			return nil, fmt.Errorf("failed to decode result of %s: %w", generation.ID, err)
		}
		entry.Result = &result
	}

	return entry, nil
}
