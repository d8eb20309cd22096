package worker

import (
	"context"
	"time"

	"github.com/cozy-creator/genjobs/internal/types"
	"go.uber.org/zap"
)

type Subcommand string

const (
	SubcommandInit       Subcommand = "init"
	SubcommandGenerate   Subcommand = "generate"
	SubcommandListModels Subcommand = "list-models"
	SubcommandListLoras  Subcommand = "list-loras"
	SubcommandStatus     Subcommand = "status"
	SubcommandCancel     Subcommand = "cancel"
	SubcommandServe      Subcommand = "serve"
)

const (
	DefaultQuickTimeout    = 30 * time.Second
	DefaultGenerateTimeout = 30 * time.Minute
)

// Transport hands one request to the worker and returns its decoded answer.
// Every call is bounded by a timeout and aborted when ctx is cancelled; for
// Generate, cancelling ctx terminates the unit doing the work.
type Transport interface {
	Init(ctx context.Context) error
	Generate(ctx context.Context, payload *types.Payload) (*types.GenerationResponse, error)
	ListModels(ctx context.Context) ([]types.ModelInfo, error)
	ListLoras(ctx context.Context) ([]types.LoraInfo, error)
	Status(ctx context.Context, generationID string) (*types.GenerationResponse, error)
	Cancel(ctx context.Context, generationID string) error
	Close() error
}

type Timeouts struct {
	Quick    time.Duration
	Generate time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{Quick: DefaultQuickTimeout, Generate: DefaultGenerateTimeout}
}

func (t Timeouts) For(sub Subcommand) time.Duration {
	if sub == SubcommandGenerate {
		if t.Generate <= 0 {
			return DefaultGenerateTimeout
		}
		return t.Generate
	}

	if t.Quick <= 0 {
		return DefaultQuickTimeout
	}
	return t.Quick
}

type options struct {
	env            []string
	timeouts       Timeouts
	startupTimeout time.Duration
	logger         *zap.Logger
}

// Option configures either transport.
type Option func(*options)

// WithEnv appends KEY=VALUE entries to the worker's environment.
func WithEnv(env ...string) Option {
	return func(o *options) {
		o.env = append(o.env, env...)
	}
}

func WithTimeouts(timeouts Timeouts) Option {
	return func(o *options) {
		o.timeouts = timeouts
	}
}

// WithStartupTimeout bounds how long a spawned daemon may take to accept
// connections.
func WithStartupTimeout(d time.Duration) Option {
	return func(o *options) {
		o.startupTimeout = d
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		timeouts:       DefaultTimeouts(),
		startupTimeout: DefaultQuickTimeout,
		logger:         zap.NewNop(),
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}
