// Package rpcroute is a route-addressed request/stream client over one
// persistent gRPC connection. A request names a route such as "orders.7";
// the route travels as call metadata to a single generic streaming method
// and every response message is a google.protobuf.Struct record.
package rpcroute

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/MikeMC777/crm-edge/internal/tracing"
	"github.com/MikeMC777/crm-edge/internal/upstream"
)

const (
	// RequestStreamMethod is the full gRPC method every route is sent to.
	RequestStreamMethod = "/crm.rpc.v1.Router/RequestStream"
	// RouteMetadataKey carries the expanded route.
	RouteMetadataKey = "x-route"
)

var requestStreamDesc = &grpc.StreamDesc{
	StreamName:    "RequestStream",
	ServerStreams: true,
}

// Options tune a Requester.
type Options struct {
	// Name identifies the upstream in errors and spans.
	Name string
	// Timeout bounds one RequestStream call, stream included.
	Timeout time.Duration
	// WaitForReady makes calls wait for the connection instead of failing
	// fast while it is down.
	WaitForReady bool
	Tracer       tracing.Tracer
	// DialOptions are appended after the defaults.
	DialOptions []grpc.DialOption
}

// Requester owns the connection. It is safe for concurrent use.
type Requester struct {
	conn    *grpc.ClientConn
	name    string
	timeout time.Duration
	callOpt []grpc.CallOption
	tracer  tracing.Tracer
}

// NewRequester creates the connection to target and starts connecting in
// the background. gRPC reconnects with exponential backoff whenever the
// connection drops; keepalive pings detect dead peers while idle.
func NewRequester(target string, opts Options) (*Requester, error) {
	if opts.Name == "" {
		opts.Name = "orders"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.Nop()
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           backoff.DefaultConfig,
			MinConnectTimeout: 5 * time.Second,
		}),
	}, opts.DialOptions...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	conn.Connect()

	return &Requester{
		conn:    conn,
		name:    opts.Name,
		timeout: opts.Timeout,
		callOpt: []grpc.CallOption{grpc.WaitForReady(opts.WaitForReady)},
		tracer:  opts.Tracer,
	}, nil
}

// State reports the connection state, for health checks.
func (r *Requester) State() connectivity.State {
	return r.conn.GetState()
}

// Close tears the connection down. In-flight streams fail.
func (r *Requester) Close() error {
	return r.conn.Close()
}

// RequestStream expands route with args and yields every record the
// backend streams back, in arrival order. Each range opens a new stream; a
// consumer that stops early cancels it. A failure is yielded once as the
// final element.
func (r *Requester) RequestStream(ctx context.Context, route string, args ...any) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		expanded, err := Expand(route, args...)
		if err != nil {
			yield(nil, err)
			return
		}

		ctx, span := r.tracer.Start(ctx, r.name+" "+route)
		defer span.End()
		span.SetAttributes(attribute.String("rpc.route", expanded))

		if err := r.stream(ctx, expanded, yield); err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			yield(nil, err)
		}
	}
}

func (r *Requester) stream(ctx context.Context, route string, yield func(json.RawMessage, error) bool) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	md := metadata.Pairs(RouteMetadataKey, route)
	r.tracer.InjectMetadata(ctx, md)
	ctx = metadata.NewOutgoingContext(ctx, md)

	stream, err := r.conn.NewStream(ctx, requestStreamDesc, RequestStreamMethod, r.callOpt...)
	if err != nil {
		return r.classify(ctx, err)
	}
	// io.EOF here means the stream already ended; RecvMsg reports why.
	if err := stream.SendMsg(&structpb.Struct{}); err != nil && !errors.Is(err, io.EOF) {
		return r.classify(ctx, err)
	}
	if err := stream.CloseSend(); err != nil {
		return r.classify(ctx, err)
	}

	for {
		msg := new(structpb.Struct)
		err := stream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return r.classify(ctx, err)
		}
		raw, err := protojson.Marshal(msg)
		if err != nil {
			return upstream.Decode(r.name, err)
		}
		if !yield(raw, nil) {
			return nil
		}
	}
}

func (r *Requester) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return upstream.FromContext(ctx, r.name, err)
	}
	st := status.Convert(err)
	switch {
	case st.Code() == codes.Internal && strings.Contains(st.Message(), "unmarshal"):
		return upstream.Decode(r.name, err)
	default:
		// Backend-side failures (NotFound, Internal, ...) are reported as
		// unavailability; the taxonomy has no finer class for them.
		return upstream.Unavailable(r.name, err)
	}
}
