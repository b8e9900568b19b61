package rpcroute_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/MikeMC777/crm-edge/internal/crm"
	"github.com/MikeMC777/crm-edge/internal/crmtest"
	"github.com/MikeMC777/crm-edge/internal/rpcroute"
	"github.com/MikeMC777/crm-edge/internal/upstream"
)

func drain(t *testing.T, r *rpcroute.Requester, route string, args ...any) ([]map[string]any, error) {
	t.Helper()
	var out []map[string]any
	for raw, err := range r.RequestStream(context.Background(), route, args...) {
		if err != nil {
			return out, err
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out, nil
}

func TestRequestStream_RoutesAndStreams(t *testing.T) {
	t.Parallel()
	backend := crmtest.NewOrdersBackend(t)
	backend.SetOrders(1, crm.Order{ID: 10, CustomerID: 1}, crm.Order{ID: 11, CustomerID: 1})
	r := backend.Requester(t, time.Second)

	got, err := drain(t, r, crm.OrdersRoute, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.EqualValues(t, 10, got[0]["id"])
	assert.EqualValues(t, 11, got[1]["id"])
	assert.EqualValues(t, 1, got[1]["customerId"])
	assert.Equal(t, []string{"orders.1"}, backend.Routes())
}

func TestRequestStream_UnknownCustomerIsEmpty(t *testing.T) {
	t.Parallel()
	backend := crmtest.NewOrdersBackend(t)
	r := backend.Requester(t, time.Second)

	got, err := drain(t, r, crm.OrdersRoute, 404)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRequestStream_Errors(t *testing.T) {
	t.Parallel()

	t.Run("dropped", func(t *testing.T) {
		t.Parallel()
		backend := crmtest.NewOrdersBackend(t)
		backend.Drop(3)
		_, err := drain(t, backend.Requester(t, time.Second), crm.OrdersRoute, 3)
		assert.ErrorIs(t, err, upstream.ErrUnavailable)
	})

	t.Run("backend error status", func(t *testing.T) {
		t.Parallel()
		backend := crmtest.NewOrdersBackend(t)
		backend.Fail(3, status.Error(codes.Internal, "db down"))
		_, err := drain(t, backend.Requester(t, time.Second), crm.OrdersRoute, 3)
		assert.ErrorIs(t, err, upstream.ErrUnavailable)
		assert.Contains(t, err.Error(), "db down")
	})

	t.Run("server stopped", func(t *testing.T) {
		t.Parallel()
		backend := crmtest.NewOrdersBackend(t)
		r := backend.Requester(t, time.Second)
		backend.Stop()
		_, err := drain(t, r, crm.OrdersRoute, 3)
		assert.ErrorIs(t, err, upstream.ErrUnavailable)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		backend := crmtest.NewOrdersBackend(t)
		backend.Block(3)
		_, err := drain(t, backend.Requester(t, 50*time.Millisecond), crm.OrdersRoute, 3)
		assert.ErrorIs(t, err, upstream.ErrUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("bad template", func(t *testing.T) {
		t.Parallel()
		backend := crmtest.NewOrdersBackend(t)
		_, err := drain(t, backend.Requester(t, time.Second), crm.OrdersRoute)
		assert.Error(t, err)
		assert.Empty(t, backend.Routes())
	})
}

func TestRequestStream_CallerCancelPassesThrough(t *testing.T) {
	t.Parallel()
	backend := crmtest.NewOrdersBackend(t)
	backend.Block(5)
	r := backend.Requester(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	var got error
	for _, err := range r.RequestStream(ctx, crm.OrdersRoute, 5) {
		got = err
	}
	assert.ErrorIs(t, got, context.Canceled)
	assert.NotErrorIs(t, got, upstream.ErrUnavailable)

	select {
	case cid := <-backend.Canceled():
		assert.Equal(t, 5, cid)
	case <-time.After(2 * time.Second):
		t.Fatal("backend never saw the cancellation")
	}
}
