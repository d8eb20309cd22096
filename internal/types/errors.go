package types

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidModelType  = errors.New("invalid model type")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrTransport         = errors.New("transport failure")
	ErrWorker            = errors.New("worker error")
	ErrDecode            = errors.New("decode error")
	ErrUnknownJob        = errors.New("unknown job")
	ErrJobNotTerminal    = errors.New("job is not in a terminal state")
	ErrDuplicateJob      = errors.New("duplicate generation id")
	ErrRegistryClosed    = errors.New("registry closed")
)

const (
	KindInvalidModelType  = "invalid_model_type"
	KindInvalidParameters = "invalid_parameters"
	KindTransportFailure  = "transport_failure"
	KindWorkerError       = "worker_error"
	KindDecodeError       = "decode_error"
	KindUnknownJob        = "unknown_job"
	KindJobNotTerminal    = "job_not_terminal"
	KindDuplicateJob      = "duplicate_job"
	KindRegistryClosed    = "registry_closed"
	KindCancelled         = "cancelled"
	KindInternal          = "internal"
)

// TransportError reports that the worker could not be reached: it failed to
// start, timed out, or was killed by a cancel.
type TransportError struct {
	Subcommand string
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("worker %s: transport failure: %v", e.Subcommand, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// WorkerError carries the worker's own diagnostic text after a non-zero exit.
type WorkerError struct {
	Subcommand string
	ExitCode   int
	Message    string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %s exited with status %d: %s", e.Subcommand, e.ExitCode, e.Message)
}

func (e *WorkerError) Is(target error) bool { return target == ErrWorker }

// DecodeError keeps the raw worker output that failed to parse.
type DecodeError struct {
	Schema string
	Raw    []byte
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s: %v", e.Schema, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidModelType):
		return KindInvalidModelType
	case errors.Is(err, ErrInvalidParameters):
		return KindInvalidParameters
	case errors.Is(err, ErrUnknownJob):
		return KindUnknownJob
	case errors.Is(err, ErrJobNotTerminal):
		return KindJobNotTerminal
	case errors.Is(err, ErrDuplicateJob):
		return KindDuplicateJob
	case errors.Is(err, ErrRegistryClosed):
		return KindRegistryClosed
	case errors.Is(err, ErrWorker):
		return KindWorkerError
	case errors.Is(err, ErrDecode):
		return KindDecodeError
	case errors.Is(err, ErrTransport):
		return KindTransportFailure
	default:
		return KindInternal
	}
}
