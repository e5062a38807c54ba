package streamchat

import (
	"context"
	"errors"
)

// ErrCancelled is returned by [Handle.Wait] when the stream was aborted by
// the caller. errors.Is(ErrCancelled, context.Canceled) is true.
var ErrCancelled error = cancelledError{}

// ErrStreamInProgress is returned by [Session.Send] while a previous stream
// for the same session is still running.
var ErrStreamInProgress = errors.New("streamchat: a stream is already in progress")

// ErrEmptyPrompt is returned by [Session.Send] for a blank prompt.
var ErrEmptyPrompt = errors.New("streamchat: prompt must not be empty")

// cancelledError keeps cancellation distinct from transport failures while
// still matching context.Canceled.
type cancelledError struct{}

func (cancelledError) Error() string { return "streamchat: stream cancelled" }

func (cancelledError) Is(target error) bool { return target == context.Canceled }
