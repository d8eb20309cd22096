package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cozy-creator/genjobs/internal/types"
	"github.com/gammazero/workerpool"
	"go.uber.org/zap"
)

const (
	DefaultMaxConcurrent = 4
	DefaultRetention     = time.Hour
)

// Dispatcher runs one generation. Cancelling ctx must abort the work.
type Dispatcher interface {
	Generate(ctx context.Context, payload *types.Payload) (*types.GenerationResponse, error)
}

// Observer is told about every job transition, in order, from a single
// goroutine. Observers must not call back into the registry.
type Observer interface {
	OnTransition(job types.Job)
}

type ObserverFunc func(job types.Job)

func (f ObserverFunc) OnTransition(job types.Job) { f(job) }

type entry struct {
	mu      sync.Mutex
	job     types.Job
	payload *types.Payload
	cancel  context.CancelFunc
	done    chan struct{}
}

// Registry tracks every submitted generation from SUBMITTED to a terminal
// state and owns the cancel handle of each in-flight invocation.
type Registry struct {
	dispatcher Dispatcher
	logger     *zap.Logger
	retention  time.Duration
	now        func() time.Time
	observers  []Observer

	mu     sync.RWMutex
	jobs   map[string]*entry
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	pool   *workerpool.WorkerPool

	// Transitions waiting for the observers. The queue is unbounded so that a
	// slow observer never stalls a caller.
	eventsMu       sync.Mutex
	eventsCond     *sync.Cond
	pending        []types.Job
	eventsClosed   bool
	dispatcherDone chan struct{}
}

type options struct {
	logger        *zap.Logger
	maxConcurrent int
	retention     time.Duration
	now           func() time.Time
	observers     []Observer
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMaxConcurrent(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithRetention sets how long terminal jobs survive a Sweep.
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retention = d
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observers = append(o.observers, observer)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func New(dispatcher Dispatcher, opts ...Option) *Registry {
	o := options{
		logger:        zap.NewNop(),
		maxConcurrent: DefaultMaxConcurrent,
		retention:     DefaultRetention,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		dispatcher:     dispatcher,
		logger:         o.logger,
		retention:      o.retention,
		now:            o.now,
		observers:      o.observers,
		jobs:           make(map[string]*entry),
		ctx:            ctx,
		cancel:         cancel,
		pool:           workerpool.New(o.maxConcurrent),
		dispatcherDone: make(chan struct{}),
	}
	r.eventsCond = sync.NewCond(&r.eventsMu)

	go r.dispatchEvents()
	return r
}

func (r *Registry) dispatchEvents() {
	defer close(r.dispatcherDone)

	for {
		r.eventsMu.Lock()
		for len(r.pending) == 0 && !r.eventsClosed {
			r.eventsCond.Wait()
		}
		batch := r.pending
		r.pending = nil
		closed := r.eventsClosed
		r.eventsMu.Unlock()

		for _, job := range batch {
			for _, observer := range r.observers {
				observer.OnTransition(job)
			}
		}

		if closed && len(batch) == 0 {
			return
		}
	}
}

// emit must be called with the entry lock held so that a job's transitions
// are queued in the order they happened.
func (r *Registry) emit(job types.Job) {
	if len(r.observers) == 0 {
		return
	}

	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()

	if r.eventsClosed {
		return
	}
	r.pending = append(r.pending, job)
	r.eventsCond.Signal()
}

// Submit registers payload as a new job and queues it for dispatch.
func (r *Registry) Submit(payload *types.Payload) (string, error) {
	if payload == nil || payload.GenerationID == "" {
		return "", fmt.Errorf("%w: missing generation id", types.ErrInvalidParameters)
	}

	id := payload.GenerationID
	e := &entry{
		job:     types.NewJob(payload, r.now()),
		payload: payload,
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", types.ErrRegistryClosed
	}
	if _, exists := r.jobs[id]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", types.ErrDuplicateJob, id)
	}
	r.jobs[id] = e

	// run blocks on e.mu until SUBMITTED has been queued.
	e.mu.Lock()
	r.pool.Submit(func() { r.run(e) })
	r.mu.Unlock()

	r.emit(e.job)
	e.mu.Unlock()

	r.logger.Info("generation submitted",
		zap.String("generation_id", id),
		zap.String("model_type", string(payload.ModelType)),
	)
	return id, nil
}

func (r *Registry) run(e *entry) {
	e.mu.Lock()
	if e.job.Status != types.JobStatusSubmitted {
		// Cancelled while queued.
		e.mu.Unlock()
		return
	}

	if r.ctx.Err() != nil {
		r.finishLocked(e, types.JobStatusFailed, types.NewFailedResponse(e.job.GenerationID, types.ErrRegistryClosed.Error()), types.KindRegistryClosed)
		e.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(r.ctx)
	defer cancel()

	started := r.now()
	e.cancel = cancel
	e.job.Status = types.JobStatusRunning
	e.job.StartedAt = &started
	r.emit(e.job)
	e.mu.Unlock()

	r.logger.Debug("generation running", zap.String("generation_id", e.job.GenerationID))
	response, err := r.dispatcher.Generate(ctx, e.payload)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancel = nil
	if e.job.Status.Terminal() {
		return
	}

	if err != nil && r.ctx.Err() != nil {
		r.finishLocked(e, types.JobStatusFailed, types.NewFailedResponse(e.job.GenerationID, fmt.Sprintf("%s: %v", types.ErrRegistryClosed, err)), types.KindRegistryClosed)
		return
	}

	status, result, kind := resolve(e.job.GenerationID, response, err)
	r.finishLocked(e, status, result, kind)
}

// resolve maps the outcome of a dispatch to the job's terminal state.
func resolve(id string, response *types.GenerationResponse, err error) (types.JobStatus, *types.GenerationResponse, string) {
	if err != nil {
		return types.JobStatusFailed, types.NewFailedResponse(id, err.Error()), types.KindOf(err)
	}

	if response == nil {
		return types.JobStatusFailed, types.NewFailedResponse(id, "worker returned no response"), types.KindDecodeError
	}

	switch response.GenerationID {
	case id:
	case "":
		stamped := *response
		stamped.GenerationID = id
		response = &stamped
	default:
		mismatch := &types.DecodeError{
			Schema: "generation response",
			Err:    fmt.Errorf("generation id mismatch: submitted %s, worker answered %s", id, response.GenerationID),
		}
		return types.JobStatusFailed, types.NewFailedResponse(id, mismatch.Error()), types.KindDecodeError
	}

	if !response.Success {
		return types.JobStatusFailed, response, types.KindWorkerError
	}

	return types.JobStatusCompleted, response, ""
}

func (r *Registry) finishLocked(e *entry, status types.JobStatus, result *types.GenerationResponse, kind string) {
	if !e.job.Status.CanAdvanceTo(status) {
		return
	}

	finished := r.now()
	e.job.Status = status
	e.job.Result = result
	e.job.ErrorKind = kind
	e.job.FinishedAt = &finished
	r.emit(e.job)
	close(e.done)

	r.logger.Info("generation finished",
		zap.String("generation_id", e.job.GenerationID),
		zap.String("status", string(status)),
		zap.String("error_kind", kind),
	)
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownJob, id)
	}
	return e, nil
}

func (r *Registry) Status(id string) (types.Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return types.Job{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job, nil
}

// Cancel moves a live job to CANCELLED and fires its handle without waiting
// for the worker to exit. Cancelling a terminal job changes nothing.
func (r *Registry) Cancel(id string) (types.Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return types.Job{}, err
	}

	e.mu.Lock()
	if e.job.Status.Terminal() {
		snapshot := e.job
		e.mu.Unlock()
		return snapshot, nil
	}

	handle := e.cancel
	r.finishLocked(e, types.JobStatusCancelled, types.NewFailedResponse(id, "generation cancelled"), types.KindCancelled)
	snapshot := e.job
	e.mu.Unlock()

	if handle != nil {
		handle()
	}
	return snapshot, nil
}

// Wait blocks until the job is terminal or ctx ends.
func (r *Registry) Wait(ctx context.Context, id string) (types.Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return types.Job{}, err
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return types.Job{}, ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job, nil
}

// Acknowledge evicts a terminal job and returns its final snapshot.
func (r *Registry) Acknowledge(id string) (types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return types.Job{}, fmt.Errorf("%w: %s", types.ErrUnknownJob, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.job.Status.Terminal() {
		return e.job, fmt.Errorf("%w: %s is %s", types.ErrJobNotTerminal, id, e.job.Status)
	}

	delete(r.jobs, id)
	return e.job, nil
}

// Sweep evicts terminal jobs that finished more than the retention window ago
// and returns how many were removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, e := range r.jobs {
		e.mu.Lock()
		expired := e.job.Status.Terminal() && e.job.FinishedAt != nil && !e.job.FinishedAt.After(cutoff)
		e.mu.Unlock()

		if expired {
			delete(r.jobs, id)
			evicted++
		}
	}

	if evicted > 0 {
		r.logger.Debug("evicted finished generations", zap.Int("count", evicted))
	}
	return evicted
}

// List returns snapshots of every tracked job, oldest first.
func (r *Registry) List() []types.Job {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	jobs := make([]types.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		jobs = append(jobs, e.job)
		e.mu.Unlock()
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].SubmittedAt.Equal(jobs[j].SubmittedAt) {
			return jobs[i].GenerationID < jobs[j].GenerationID
		}
		return jobs[i].SubmittedAt.Before(jobs[j].SubmittedAt)
	})
	return jobs
}

// Close rejects further submissions, cancels running generations and waits
// for the pool and the observers to drain.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.pool.StopWait()

	r.eventsMu.Lock()
	r.eventsClosed = true
	r.eventsCond.Broadcast()
	r.eventsMu.Unlock()

	<-r.dispatcherDone
	return nil
}
