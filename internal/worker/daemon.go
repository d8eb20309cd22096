package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cozy-creator/genjobs/internal/types"
	"github.com/hpcloud/tail"
	process "github.com/mudler/go-processmanager"
	"github.com/phayes/freeport"
	"go.uber.org/zap"
)

// DaemonTransport talks to one long-lived worker listening on a TCP address.
// Every request uses its own connection; requests for the same generation id
// reach the same daemon, so status and cancel observe the running job.
type DaemonTransport struct {
	address string
	process *process.Process
	tails   []*tail.Tail
	options
}

// NewDaemonTransport connects to a daemon that is already running.
func NewDaemonTransport(address string, opts ...Option) *DaemonTransport {
	return &DaemonTransport{
		address: address,
		options: newOptions(opts),
	}
}

// SpawnDaemon starts the worker in serve mode on a free local port and waits
// until it accepts connections. The daemon is stopped by Close.
func SpawnDaemon(ctx context.Context, executable string, baseArgs []string, opts ...Option) (*DaemonTransport, error) {
	o := newOptions(opts)

	port, err := freeport.GetFreePort()
	if err != nil {
		return nil, &types.TransportError{Subcommand: string(SubcommandServe), Err: fmt.Errorf("failed to find a free port: %w", err)}
	}
	address := fmt.Sprintf("localhost:%d", port)

	args := append([]string(nil), baseArgs...)
	args = append(args, string(SubcommandServe), "--addr", address)

	proc := process.New(
		process.WithTemporaryStateDir(),
		process.WithName(executable),
		process.WithArgs(args...),
		process.WithEnvironment(append(os.Environ(), o.env...)...),
	)

	o.logger.Info("starting worker daemon", zap.String("executable", executable), zap.String("address", address))
	if err := proc.Run(); err != nil {
		return nil, &types.TransportError{Subcommand: string(SubcommandServe), Err: err}
	}

	t := &DaemonTransport{address: address, process: proc, options: o}
	t.followLogs()

	if err := t.waitReady(ctx); err != nil {
		t.Close()
		return nil, err
	}

	o.logger.Info("worker daemon ready", zap.String("address", address), zap.String("state_dir", proc.StateDir()))
	return t, nil
}

func (t *DaemonTransport) followLogs() {
	paths := map[string]string{
		"stderr": t.process.StderrPath(),
		"stdout": t.process.StdoutPath(),
	}

	for stream, path := range paths {
		tl, err := tail.TailFile(path, tail.Config{Follow: true})
		if err != nil {
			t.logger.Warn("could not tail worker output", zap.String("stream", stream), zap.Error(err))
			continue
		}
		t.tails = append(t.tails, tl)

		go func(stream string, tl *tail.Tail) {
			for line := range tl.Lines {
				t.logger.Debug("worker output", zap.String("stream", stream), zap.String("line", line.Text))
			}
		}(stream, tl)
	}
}

func (t *DaemonTransport) waitReady(ctx context.Context) error {
	started := time.Now()
	deadline := started.Add(t.startupTimeout)

	for {
		conn, err := net.DialTimeout("tcp", t.address, time.Second)
		if err == nil {
			return conn.Close()
		}

		if time.Since(started) > time.Second && !t.process.IsAlive() {
			return &types.TransportError{Subcommand: string(SubcommandServe), Err: errors.New("worker daemon exited during startup")}
		}

		if time.Now().After(deadline) {
			return &types.TransportError{Subcommand: string(SubcommandServe), Err: fmt.Errorf("worker daemon not ready after %s: %w", t.startupTimeout, err)}
		}

		select {
		case <-ctx.Done():
			return &types.TransportError{Subcommand: string(SubcommandServe), Err: ctx.Err()}
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (t *DaemonTransport) call(ctx context.Context, req daemonRequest) (json.RawMessage, error) {
	sub := string(req.Command)
	ctx, cancel := context.WithTimeout(ctx, t.timeouts.For(req.Command))
	defer cancel()

	fail := func(err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &types.TransportError{Subcommand: sub, Err: err}
	}

	conn, err := dialFrame(ctx, t.address)
	if err != nil {
		return nil, fail(err)
	}
	defer conn.Close()

	// Unblocks the reads below when the call is cancelled or times out.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.Send(req); err != nil {
		return nil, fail(err)
	}

	frame, err := conn.ReceiveFrame()
	if err != nil {
		return nil, fail(err)
	}

	var reply daemonReply
	if err := json.Unmarshal(frame, &reply); err != nil {
		return nil, &types.DecodeError{Schema: "daemon reply", Raw: frame, Err: err}
	}

	if !reply.OK {
		return nil, &types.WorkerError{Subcommand: sub, ExitCode: 1, Message: reply.Error}
	}

	return reply.Body, nil
}

func (t *DaemonTransport) Init(ctx context.Context) error {
	body, err := t.call(ctx, daemonRequest{Command: SubcommandInit})
	if err != nil {
		return err
	}

	return DecodeUnit(body)
}

func (t *DaemonTransport) Generate(ctx context.Context, payload *types.Payload) (*types.GenerationResponse, error) {
	body, err := t.call(ctx, daemonRequest{
		Command:      SubcommandGenerate,
		GenerationID: payload.GenerationID,
		Payload:      payload,
	})
	if err != nil {
		if errors.Is(err, types.ErrTransport) {
			// The daemon may still be working on the job.
			go t.abandon(payload.GenerationID)
		}
		return nil, err
	}

	return DecodeGenerationResponse(body)
}

func (t *DaemonTransport) abandon(generationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeouts.For(SubcommandCancel))
	defer cancel()

	if err := t.Cancel(ctx, generationID); err != nil {
		t.logger.Debug("failed to cancel abandoned generation", zap.String("generation_id", generationID), zap.Error(err))
	}
}

func (t *DaemonTransport) ListModels(ctx context.Context) ([]types.ModelInfo, error) {
	body, err := t.call(ctx, daemonRequest{Command: SubcommandListModels})
	if err != nil {
		return nil, err
	}

	return DecodeModels(body)
}

func (t *DaemonTransport) ListLoras(ctx context.Context) ([]types.LoraInfo, error) {
	body, err := t.call(ctx, daemonRequest{Command: SubcommandListLoras})
	if err != nil {
		return nil, err
	}

	return DecodeLoras(body)
}

func (t *DaemonTransport) Status(ctx context.Context, generationID string) (*types.GenerationResponse, error) {
	body, err := t.call(ctx, daemonRequest{Command: SubcommandStatus, GenerationID: generationID})
	if err != nil {
		return nil, err
	}

	return DecodeGenerationResponse(body)
}

func (t *DaemonTransport) Cancel(ctx context.Context, generationID string) error {
	body, err := t.call(ctx, daemonRequest{Command: SubcommandCancel, GenerationID: generationID})
	if err != nil {
		return err
	}

	return DecodeUnit(body)
}

func (t *DaemonTransport) Close() error {
	for _, tl := range t.tails {
		tl.Stop()
	}

	if t.process == nil {
		return nil
	}

	t.logger.Info("stopping worker daemon", zap.String("address", t.address))
	return t.process.Stop()
}
