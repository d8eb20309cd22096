package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cozy-creator/genjobs/internal/types"
	"go.uber.org/zap"
)

// ExecTransport runs one worker process per invocation:
//
//	<executable> <baseArgs...> <subcommand> [argument]
//
// The process of a Generate call lives exactly as long as the call's context,
// so whoever holds that context's cancel function holds the job's handle.
type ExecTransport struct {
	executable string
	baseArgs   []string
	waitDelay  time.Duration
	options
}

func NewExecTransport(executable string, baseArgs []string, opts ...Option) *ExecTransport {
	return &ExecTransport{
		executable: executable,
		baseArgs:   append([]string(nil), baseArgs...),
		waitDelay:  2 * time.Second,
		options:    newOptions(opts),
	}
}

// Command resolves the worker executable and its leading arguments. With an
// empty interpreter the script is executed directly.
func Command(interpreter, script string) (string, []string) {
	if interpreter == "" {
		return script, nil
	}

	return interpreter, []string{script}
}

func NewPythonTransport(interpreter, script string, opts ...Option) *ExecTransport {
	executable, args := Command(interpreter, script)
	return NewExecTransport(executable, args, opts...)
}

func (t *ExecTransport) invoke(ctx context.Context, sub Subcommand, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeouts.For(sub))
	defer cancel()

	argv := make([]string, 0, len(t.baseArgs)+1+len(args))
	argv = append(argv, t.baseArgs...)
	argv = append(argv, string(sub))
	argv = append(argv, args...)

	cmd := exec.CommandContext(ctx, t.executable, argv...)
	cmd.Env = append(os.Environ(), t.env...)
	cmd.WaitDelay = t.waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	t.logger.Debug("worker invocation finished",
		zap.String("subcommand", string(sub)),
		zap.Duration("elapsed", time.Since(started)),
		zap.Error(err),
	)

	if err != nil {
		// A killed process also reports an ExitError, so the context has to
		// be checked first.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &types.TransportError{Subcommand: string(sub), Err: ctxErr}
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &types.WorkerError{
				Subcommand: string(sub),
				ExitCode:   exitErr.ExitCode(),
				Message:    strings.TrimSpace(stderr.String()),
			}
		}

		return nil, &types.TransportError{Subcommand: string(sub), Err: err}
	}

	return stdout.Bytes(), nil
}

func (t *ExecTransport) Init(ctx context.Context) error {
	out, err := t.invoke(ctx, SubcommandInit)
	if err != nil {
		return err
	}

	return DecodeUnit(out)
}

func (t *ExecTransport) Generate(ctx context.Context, payload *types.Payload) (*types.GenerationResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	out, err := t.invoke(ctx, SubcommandGenerate, string(data))
	if err != nil {
		return nil, err
	}

	return DecodeGenerationResponse(out)
}

func (t *ExecTransport) ListModels(ctx context.Context) ([]types.ModelInfo, error) {
	out, err := t.invoke(ctx, SubcommandListModels)
	if err != nil {
		return nil, err
	}

	return DecodeModels(out)
}

func (t *ExecTransport) ListLoras(ctx context.Context) ([]types.LoraInfo, error) {
	out, err := t.invoke(ctx, SubcommandListLoras)
	if err != nil {
		return nil, err
	}

	return DecodeLoras(out)
}

func (t *ExecTransport) Status(ctx context.Context, generationID string) (*types.GenerationResponse, error) {
	out, err := t.invoke(ctx, SubcommandStatus, generationID)
	if err != nil {
		return nil, err
	}

	return DecodeGenerationResponse(out)
}

func (t *ExecTransport) Cancel(ctx context.Context, generationID string) error {
	out, err := t.invoke(ctx, SubcommandCancel, generationID)
	if err != nil {
		return err
	}

	return DecodeUnit(out)
}

func (t *ExecTransport) Close() error {
	return nil
}
