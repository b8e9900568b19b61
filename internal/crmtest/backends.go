// Package crmtest provides in-process fakes of the customers and orders
// services for tests.
package crmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/MikeMC777/crm-edge/internal/crm"
	"github.com/MikeMC777/crm-edge/internal/rpcroute"
)

//
// ---------- CUSTOMERS (HTTP) ----------
//

// CustomersBackend serves GET /customers as a JSON array.
type CustomersBackend struct {
	*httptest.Server

	mu        sync.Mutex
	customers []crm.Customer
	status    int
	body      string
	lastReq   *http.Request

	requests atomic.Int32
}

func NewCustomersBackend(t testing.TB, customers ...crm.Customer) *CustomersBackend {
	t.Helper()
	b := &CustomersBackend{customers: customers}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Server.Close)
	return b
}

func (b *CustomersBackend) serve(w http.ResponseWriter, r *http.Request) {
	b.requests.Add(1)
	b.mu.Lock()
	b.lastReq = r.Clone(context.Background())
	customers, code, body := b.customers, b.status, b.body
	b.mu.Unlock()

	if r.URL.Path != "/customers" {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if code != 0 {
		w.WriteHeader(code)
	}
	if body != "" {
		_, _ = w.Write([]byte(body))
		return
	}
	if customers == nil {
		customers = []crm.Customer{}
	}
	_ = json.NewEncoder(w).Encode(customers)
}

// Respond overrides the response with a fixed status and raw body.
func (b *CustomersBackend) Respond(status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status, b.body = status, body
}

// BaseURL is scheme://host:port of the fake, without a path.
func (b *CustomersBackend) BaseURL() *url.URL {
	u, _ := url.Parse(b.Server.URL)
	return u
}

func (b *CustomersBackend) Requests() int { return int(b.requests.Load()) }

// LastRequest is a copy of the most recent request, or nil.
func (b *CustomersBackend) LastRequest() *http.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastReq
}

//
// ---------- ORDERS (gRPC over bufconn) ----------
//

// OrdersBackend answers orders.{cid} routes on an in-memory gRPC listener.
type OrdersBackend struct {
	mu       sync.Mutex
	orders   map[int][]crm.Order
	raw      map[int][]map[string]any
	failures map[int]error
	delays   map[int]time.Duration
	blocked  map[int]bool
	routes   []string
	canceled chan int

	lis *bufconn.Listener
	srv *grpc.Server
}

func NewOrdersBackend(t testing.TB) *OrdersBackend {
	t.Helper()
	b := &OrdersBackend{
		orders:   map[int][]crm.Order{},
		raw:      map[int][]map[string]any{},
		failures: map[int]error{},
		delays:   map[int]time.Duration{},
		blocked:  map[int]bool{},
		canceled: make(chan int, 64),
		lis:      bufconn.Listen(1 << 20),
	}
	b.srv = grpc.NewServer(grpc.UnknownServiceHandler(b.handle))
	go func() { _ = b.srv.Serve(b.lis) }()
	t.Cleanup(b.srv.Stop)
	return b
}

// SetOrders sets what orders.{cid} streams back.
func (b *OrdersBackend) SetOrders(cid int, orders ...crm.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[cid] = orders
}

// SetRaw makes orders.{cid} stream arbitrary records.
func (b *OrdersBackend) SetRaw(cid int, records ...map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.raw[cid] = records
}

// Fail makes orders.{cid} end with err, which should be a gRPC status error.
func (b *OrdersBackend) Fail(cid int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[cid] = err
}

// Drop makes orders.{cid} end as if the connection had dropped.
func (b *OrdersBackend) Drop(cid int) {
	b.Fail(cid, status.Error(codes.Unavailable, "connection dropped"))
}

// Delay holds orders.{cid} back for d before streaming.
func (b *OrdersBackend) Delay(cid int, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delays[cid] = d
}

// Block makes orders.{cid} hang until the caller cancels; the cid is then
// reported on Canceled.
func (b *OrdersBackend) Block(cid int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked[cid] = true
}

// Canceled reports customer ids whose blocked stream saw cancellation.
func (b *OrdersBackend) Canceled() <-chan int { return b.canceled }

// Routes lists every route requested so far.
func (b *OrdersBackend) Routes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.routes...)
}

// Stop kills the server and every open connection.
func (b *OrdersBackend) Stop() { b.srv.Stop() }

// Requester dials the fake. The connection is closed at test cleanup.
func (b *OrdersBackend) Requester(t testing.TB, timeout time.Duration) *rpcroute.Requester {
	t.Helper()
	r, err := rpcroute.NewRequester("passthrough:///bufnet", rpcroute.Options{
		Timeout: timeout,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return b.lis.DialContext(ctx)
			}),
		},
	})
	if err != nil {
		t.Fatalf("dial orders fake: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func (b *OrdersBackend) handle(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	if method != rpcroute.RequestStreamMethod {
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
	md, _ := metadata.FromIncomingContext(stream.Context())
	vals := md.Get(rpcroute.RouteMetadataKey)
	if len(vals) != 1 {
		return status.Error(codes.InvalidArgument, "route metadata is required")
	}
	route := vals[0]
	if err := stream.RecvMsg(new(structpb.Struct)); err != nil {
		return err
	}

	var cid int
	if _, err := fmt.Sscanf(route, "orders.%d", &cid); err != nil {
		return status.Errorf(codes.NotFound, "no handler for route %q", route)
	}

	b.mu.Lock()
	b.routes = append(b.routes, route)
	orders, raw := b.orders[cid], b.raw[cid]
	failure, delay, blocked := b.failures[cid], b.delays[cid], b.blocked[cid]
	b.mu.Unlock()

	ctx := stream.Context()
	if blocked {
		<-ctx.Done()
		select {
		case b.canceled <- cid:
		default:
		}
		return ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failure != nil {
		return failure
	}

	records := append([]map[string]any(nil), raw...)
	for _, o := range orders {
		records = append(records, map[string]any{"id": o.ID, "customerId": o.CustomerID})
	}
	for _, rec := range records {
		msg, err := structpb.NewStruct(rec)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}
	return nil
}
