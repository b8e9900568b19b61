package upstream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrappersKeepCause(t *testing.T) {
	cause := errors.New("connection refused")

	err := Unavailable("customers", cause)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrDecode)
	assert.Contains(t, err.Error(), "customers")

	err = Decode("orders", cause)
	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, cause)

	assert.NoError(t, Unavailable("x", nil))
	assert.NoError(t, Decode("x", nil))
}

func TestFromContext(t *testing.T) {
	cause := errors.New("read: use of closed connection")

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	err := FromContext(canceled, "orders", cause)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnavailable)

	expired, cancel2 := context.WithTimeout(context.Background(), 0)
	defer cancel2()
	<-expired.Done()
	err = FromContext(expired, "orders", cause)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = FromContext(context.Background(), "orders", cause)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "ok", Kind(nil))
	assert.Equal(t, "canceled", Kind(context.Canceled))
	assert.Equal(t, "decode_error", Kind(Decode("a", errors.New("x"))))
	assert.Equal(t, "unavailable", Kind(Unavailable("a", errors.New("x"))))
	assert.Equal(t, "error", Kind(errors.New("x")))
}
