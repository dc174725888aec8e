package media

import (
	"errors"
	"fmt"
)

// ErrClosed is returned when sending on an ingress queue or control plane
// that has already been closed. Closure itself is the termination signal
// and is never reported as a failure of a running pipeline.
var ErrClosed = errors.New("channel closed")

// SetupError is a fatal failure to begin playback: the source could not be
// opened, a stream has no usable decoder, or an output device failed to
// initialise. Playback never begins when one is returned.
type SetupError struct {
	Op     string
	Stream string
	Err    error
}

func (e *SetupError) Error() string {
	if e.Stream != "" {
		return fmt.Sprintf("setup %s (%s): %v", e.Op, e.Stream, e.Err)
	}
	return fmt.Sprintf("setup %s: %v", e.Op, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// NewSetupError wraps err as a SetupError. A nil err yields nil.
func NewSetupError(op, stream string, err error) error {
	if err == nil {
		return nil
	}
	var se *SetupError
	if errors.As(err, &se) {
		return err
	}
	return &SetupError{Op: op, Stream: stream, Err: err}
}

// DecodeError reports a packet that could not be decoded. It is recorded
// and skipped; the pipeline keeps running.
type DecodeError struct {
	Stream string
	PTS    int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s at pts %d: %v", e.Stream, e.PTS, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
