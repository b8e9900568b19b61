// Package httpstream issues GET requests and decodes the response body as a
// lazy sequence of JSON records.
package httpstream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MikeMC777/crm-edge/internal/tracing"
	"github.com/MikeMC777/crm-edge/internal/upstream"
)

// Client is safe for concurrent use; every Stream call is an independent
// request.
type Client struct {
	HTTP   *http.Client
	Tracer tracing.Tracer
	// Name identifies the upstream in errors and spans.
	Name string
}

// NewClient returns a client whose calls, body included, are bounded by
// timeout.
func NewClient(name string, timeout time.Duration, tracer tracing.Tracer) *Client {
	if tracer == nil {
		tracer = tracing.Nop()
	}
	return &Client{
		HTTP:   &http.Client{Timeout: timeout},
		Tracer: tracer,
		Name:   name,
	}
}

// Stream GETs uri and yields each JSON record of the body in arrival order.
// The body may be a JSON array or a run of concatenated (for example
// newline-delimited) JSON values. Nothing is sent until the sequence is
// ranged over, and each range issues a new request. A failure is yielded
// once as the final element.
func (c *Client) Stream(ctx context.Context, uri string) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		ctx, span := c.Tracer.Start(ctx, c.Name+" GET")
		defer span.End()
		span.SetAttributes(attribute.String("http.url", uri))

		err := c.stream(ctx, uri, yield)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
		}
	}
}

// errStopped signals that the consumer stopped ranging.
var errStopped = errors.New("consumer stopped")

func (c *Client) stream(ctx context.Context, uri string, yield func(json.RawMessage, error) bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return upstream.Unavailable(c.Name, err)
	}
	req.Header.Set("Accept", "application/json")
	c.Tracer.InjectHTTP(ctx, req.Header)

	res, err := c.HTTP.Do(req)
	if err != nil {
		return upstream.FromContext(ctx, c.Name, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return upstream.Unavailable(c.Name, fmt.Errorf("unexpected status %s", res.Status))
	}

	err = decode(res.Body, func(raw json.RawMessage) error {
		if !yield(raw, nil) {
			return errStopped
		}
		return nil
	})
	switch {
	case err == nil, errors.Is(err, errStopped):
		return nil
	case isSyntax(err):
		return upstream.Decode(c.Name, err)
	default:
		return upstream.FromContext(ctx, c.Name, err)
	}
}

// decode feeds every record of r to emit. A leading '[' selects array mode;
// anything else is read as a sequence of top-level values.
func decode(r io.Reader, emit func(json.RawMessage) error) error {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	dec := json.NewDecoder(br)

	if first != '[' {
		for {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err == io.EOF {
				return nil
			} else if err != nil {
				return err
			}
			if err := emit(raw); err != nil {
				return err
			}
		}
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if err := emit(raw); err != nil {
			return err
		}
	}
	// closing bracket
	_, err = dec.Token()
	return err
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

func isSyntax(err error) bool {
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.As(err, &syn) || errors.As(err, &typ)
}
