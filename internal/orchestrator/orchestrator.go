package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/cozy-creator/genjobs/internal/registry"
	"github.com/cozy-creator/genjobs/internal/services/catalog"
	"github.com/cozy-creator/genjobs/internal/types"
	"github.com/cozy-creator/genjobs/internal/validator"
	"github.com/cozy-creator/genjobs/internal/worker"
	"go.uber.org/zap"
)

// Orchestrator is the entry point used by every outer surface. It validates
// requests, tracks jobs in the registry and proxies catalog queries.
type Orchestrator struct {
	transport worker.Transport
	catalog   *catalog.Service
	validator *validator.Validator
	registry  *registry.Registry
	logger    *zap.Logger

	workerFallback bool
}

type options struct {
	logger          *zap.Logger
	workerFallback  bool
	registryOptions []registry.Option
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithWorkerFallback forwards Status and Cancel for ids the registry does not
// know to the worker itself.
func WithWorkerFallback(enabled bool) Option {
	return func(o *options) {
		o.workerFallback = enabled
	}
}

func WithRegistryOptions(opts ...registry.Option) Option {
	return func(o *options) {
		o.registryOptions = append(o.registryOptions, opts...)
	}
}

func New(transport worker.Transport, opts ...Option) *Orchestrator {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	registryOptions := append([]registry.Option{registry.WithLogger(o.logger)}, o.registryOptions...)
	catalogService := catalog.NewService(transport, o.logger)

	return &Orchestrator{
		transport:      transport,
		catalog:        catalogService,
		validator:      validator.New(catalogService),
		registry:       registry.New(transport, registryOptions...),
		logger:         o.logger,
		workerFallback: o.workerFallback,
	}
}

// Init prepares the worker environment and then loads the catalog snapshot
// used for validation. A catalog failure is logged, not returned.
func (o *Orchestrator) Init(ctx context.Context) error {
	if err := o.transport.Init(ctx); err != nil {
		return err
	}

	if err := o.catalog.Refresh(ctx); err != nil {
		o.logger.Warn("failed to load model catalog after init", zap.Error(err))
	}
	return nil
}

// Generate validates req and queues it. The returned id identifies the job
// for every later call.
func (o *Orchestrator) Generate(req *types.GenerationRequest) (string, error) {
	payload, err := o.validator.Validate(req)
	if err != nil {
		return "", err
	}

	return o.registry.Submit(payload)
}

func (o *Orchestrator) Status(ctx context.Context, id string) (types.Job, error) {
	job, err := o.registry.Status(id)
	if err == nil || !o.fallback(err) {
		return job, err
	}

	response, werr := o.transport.Status(ctx, id)
	if werr != nil {
		return types.Job{}, werr
	}
	switch response.GenerationID {
	case id:
	case "":
		response.GenerationID = id
	default:
		return types.Job{}, &types.DecodeError{
			Schema: "generation response",
			Err:    fmt.Errorf("generation id mismatch: requested %s, worker answered %s", id, response.GenerationID),
		}
	}

	job = types.Job{GenerationID: id, Status: types.JobStatusCompleted, Result: response}
	if !response.Success {
		job.Status = types.JobStatusFailed
		job.ErrorKind = types.KindWorkerError
	}
	return job, nil
}

func (o *Orchestrator) Cancel(ctx context.Context, id string) (types.Job, error) {
	job, err := o.registry.Cancel(id)
	if err == nil || !o.fallback(err) {
		return job, err
	}

	if werr := o.transport.Cancel(ctx, id); werr != nil {
		return types.Job{}, werr
	}
	return types.Job{GenerationID: id, Status: types.JobStatusCancelled, ErrorKind: types.KindCancelled}, nil
}

func (o *Orchestrator) fallback(err error) bool {
	return o.workerFallback && errors.Is(err, types.ErrUnknownJob)
}

func (o *Orchestrator) Acknowledge(id string) (types.Job, error) {
	return o.registry.Acknowledge(id)
}

func (o *Orchestrator) Jobs() []types.Job {
	return o.registry.List()
}

// Wait blocks until the job reaches a terminal state or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context, id string) (types.Job, error) {
	return o.registry.Wait(ctx, id)
}

// Sweep evicts expired terminal jobs.
func (o *Orchestrator) Sweep() int {
	return o.registry.Sweep()
}

func (o *Orchestrator) ListModels(ctx context.Context) ([]types.ModelInfo, error) {
	return o.catalog.ListModels(ctx)
}

func (o *Orchestrator) ListLoras(ctx context.Context) ([]types.LoraInfo, error) {
	return o.catalog.ListLoras(ctx)
}

// Close stops the registry and then releases the worker.
func (o *Orchestrator) Close() error {
	if err := o.registry.Close(); err != nil {
		return err
	}

	return o.transport.Close()
}
