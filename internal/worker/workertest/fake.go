// Package workertest provides an in-memory worker.Transport for tests.
package workertest

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/cozy-creator/genjobs/internal/types"
	"github.com/cozy-creator/genjobs/internal/worker"
)

var _ worker.Transport = (*Fake)(nil)

// Fake answers every call through the matching func field. Nil funcs fall back
// to a successful default. Calls are counted per subcommand.
type Fake struct {
	InitFunc       func(ctx context.Context) error
	GenerateFunc   func(ctx context.Context, payload *types.Payload) (*types.GenerationResponse, error)
	ListModelsFunc func(ctx context.Context) ([]types.ModelInfo, error)
	ListLorasFunc  func(ctx context.Context) ([]types.LoraInfo, error)
	StatusFunc     func(ctx context.Context, generationID string) (*types.GenerationResponse, error)
	CancelFunc     func(ctx context.Context, generationID string) error

	calls  sync.Map
	closed atomic.Bool
}

func (f *Fake) count(sub worker.Subcommand) {
	counter, _ := f.calls.LoadOrStore(sub, new(atomic.Int64))
	counter.(*atomic.Int64).Add(1)
}

// Calls returns how many times sub was invoked.
func (f *Fake) Calls(sub worker.Subcommand) int {
	counter, ok := f.calls.Load(sub)
	if !ok {
		return 0
	}
	return int(counter.(*atomic.Int64).Load())
}

// TotalCalls returns the number of invocations across all subcommands.
func (f *Fake) TotalCalls() int {
	total := 0
	f.calls.Range(func(_, counter any) bool {
		total += int(counter.(*atomic.Int64).Load())
		return true
	})
	return total
}

func (f *Fake) Closed() bool {
	return f.closed.Load()
}

func (f *Fake) Init(ctx context.Context) error {
	f.count(worker.SubcommandInit)
	if f.InitFunc != nil {
		return f.InitFunc(ctx)
	}
	return nil
}

func (f *Fake) Generate(ctx context.Context, payload *types.Payload) (*types.GenerationResponse, error) {
	f.count(worker.SubcommandGenerate)
	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, payload)
	}
	return Succeed(payload.GenerationID, `{"ok":true}`), nil
}

func (f *Fake) ListModels(ctx context.Context) ([]types.ModelInfo, error) {
	f.count(worker.SubcommandListModels)
	if f.ListModelsFunc != nil {
		return f.ListModelsFunc(ctx)
	}
	return []types.ModelInfo{}, nil
}

func (f *Fake) ListLoras(ctx context.Context) ([]types.LoraInfo, error) {
	f.count(worker.SubcommandListLoras)
	if f.ListLorasFunc != nil {
		return f.ListLorasFunc(ctx)
	}
	return []types.LoraInfo{}, nil
}

func (f *Fake) Status(ctx context.Context, generationID string) (*types.GenerationResponse, error) {
	f.count(worker.SubcommandStatus)
	if f.StatusFunc != nil {
		return f.StatusFunc(ctx, generationID)
	}
	return types.NewFailedResponse(generationID, "unknown generation"), nil
}

func (f *Fake) Cancel(ctx context.Context, generationID string) error {
	f.count(worker.SubcommandCancel)
	if f.CancelFunc != nil {
		return f.CancelFunc(ctx, generationID)
	}
	return nil
}

func (f *Fake) Close() error {
	f.closed.Store(true)
	return nil
}

// Succeed builds a successful response carrying data.
func Succeed(generationID, data string) *types.GenerationResponse {
	return &types.GenerationResponse{
		Success:      true,
		Data:         json.RawMessage(data),
		GenerationID: generationID,
	}
}

// Block returns a GenerateFunc that waits for release or for ctx to end.
// Closing release lets every blocked call succeed.
func Block(release <-chan struct{}) func(ctx context.Context, payload *types.Payload) (*types.GenerationResponse, error) {
	return func(ctx context.Context, payload *types.Payload) (*types.GenerationResponse, error) {
		select {
		case <-release:
			return Succeed(payload.GenerationID, `{"ok":true}`), nil
		case <-ctx.Done():
			return nil, &types.TransportError{Subcommand: string(worker.SubcommandGenerate), Err: ctx.Err()}
		}
	}
}
