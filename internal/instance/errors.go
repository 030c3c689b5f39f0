package instance

import (
	"errors"
	"fmt"
)

// Construction errors.
var (
	ErrInvalidDirectory = errors.New("invalid root directory")
	ErrInvalidJarPath   = errors.New("invalid jar path")
)

// Lifecycle errors.
var (
	ErrAlreadyRunning   = errors.New("instance already running")
	ErrNotRunning       = errors.New("instance not running")
	ErrCommandFailed    = errors.New("os command failed")
	ErrNoStdoutPipe     = errors.New("no stdout pipe")
	ErrNoStderrPipe     = errors.New("no stderr pipe")
	ErrNoStdinPipe      = errors.New("no stdin pipe")
	ErrStdinWriteFailed = errors.New("failed to write to stdin")
	ErrEarlyCrash       = errors.New("server exited before becoming ready")
	ErrStartAborted     = errors.New("start aborted by stop or kill")
)

// Subscription errors.
var (
	ErrNoStderr      = errors.New("stderr channel not available")
	ErrUnknownSource = errors.New("unknown stream source")
)

// OpError records the lifecycle operation that failed.
type OpError struct {
	Op       string
	Instance string
	Err      error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("mineguard %s %q: %v", e.Op, e.Instance, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func (h *Handle) opErr(op string, err error) error {
	return &OpError{Op: op, Instance: h.opts.name, Err: err}
}
