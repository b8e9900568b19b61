// Package upstream holds the error taxonomy shared by the transports that
// talk to the customers and orders backends.
package upstream

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable marks connection-level failures: dial errors, dropped
	// streams, non-2xx responses and per-call timeouts.
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrDecode marks a payload that could not be parsed into a record.
	ErrDecode = errors.New("decode error")
)

// Unavailable wraps err as ErrUnavailable for the named upstream.
func Unavailable(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", name, ErrUnavailable, err)
}

// Decode wraps err as ErrDecode for the named upstream.
func Decode(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", name, ErrDecode, err)
}

// FromContext classifies a transport error that happened while ctx was
// done. Caller cancellation passes through untouched; a blown deadline is
// the per-call timeout and counts as unavailability.
func FromContext(ctx context.Context, name string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return ctx.Err()
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Unavailable(name, ctx.Err())
	default:
		return Unavailable(name, err)
	}
}

// Kind names the class of err for metrics labels and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrDecode):
		return "decode_error"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
