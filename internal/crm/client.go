// Package crm composes the customers service (HTTP) and the orders service
// (route-addressed RPC) into lazy customer, order and customer-orders
// sequences.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/url"

	"github.com/MikeMC777/crm-edge/internal/upstream"
)

// OrdersRoute addresses the orders of one customer on the orders service.
const OrdersRoute = "orders.{cid}"

// DefaultJoinConcurrency bounds nested orders fetches when no option says
// otherwise.
const DefaultJoinConcurrency = 16

// HTTPStreamer is the streamed-HTTP capability: GET uri, yield each record.
type HTTPStreamer interface {
	Stream(ctx context.Context, uri string) iter.Seq2[json.RawMessage, error]
}

// RouteStreamer is the streamed-RPC capability: request a route over the
// persistent connection, yield each record.
type RouteStreamer interface {
	RequestStream(ctx context.Context, route string, args ...any) iter.Seq2[json.RawMessage, error]
}

// Client is stateless between calls and safe for concurrent use.
type Client struct {
	http         HTTPStreamer
	rpc          RouteStreamer
	customersURI string
	joinLimit    int
	metrics      *Metrics
	logger       *slog.Logger
}

type Option func(*Client)

// WithJoinConcurrency bounds how many nested orders fetches CustomerOrders
// runs at once. n <= 0 removes the bound.
func WithJoinConcurrency(n int) Option {
	return func(c *Client) { c.joinLimit = n }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient builds the aggregator. customersBase supplies scheme, host and
// port of the customers service; its path is ignored.
func NewClient(customersBase *url.URL, http HTTPStreamer, rpc RouteStreamer, opts ...Option) (*Client, error) {
	uri, err := CustomersURI(customersBase)
	if err != nil {
		return nil, err
	}
	c := &Client{
		http:         http,
		rpc:          rpc,
		customersURI: uri,
		joinLimit:    DefaultJoinConcurrency,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger.Info("customers service configured", "uri", c.customersURI)
	return c, nil
}

// CustomersURI normalizes a base address to scheme://host:port/customers.
// A missing port takes the scheme's default.
func CustomersURI(base *url.URL) (string, error) {
	if base == nil || base.Scheme == "" || base.Hostname() == "" {
		return "", fmt.Errorf("customers uri %v: scheme and host are required", base)
	}
	port := base.Port()
	if port == "" {
		switch base.Scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		default:
			return "", fmt.Errorf("customers uri %v: no port and no default for scheme %q", base, base.Scheme)
		}
	}
	return fmt.Sprintf("%s://%s/customers", base.Scheme, net.JoinHostPort(base.Hostname(), port)), nil
}

// CustomersURL is the normalized customers listing address.
func (c *Client) CustomersURL() string { return c.customersURI }

// Customers lists customers in arrival order. Every range issues one new
// call to the customers service.
func (c *Client) Customers(ctx context.Context) iter.Seq2[Customer, error] {
	return func(yield func(Customer, error) bool) {
		raws := c.metrics.observe("customers", c.http.Stream(ctx, c.customersURI))
		for cust, err := range decodeRecords[Customer]("customers", raws) {
			if !yield(cust, err) {
				return
			}
		}
	}
}

// OrdersFor lists the orders of one customer in arrival order. Every range
// issues one new call to the orders service on route orders.{cid}.
func (c *Client) OrdersFor(ctx context.Context, customerID int) iter.Seq2[Order, error] {
	return func(yield func(Order, error) bool) {
		raws := c.metrics.observe("orders", c.rpc.RequestStream(ctx, OrdersRoute, customerID))
		for o, err := range decodeRecords[Order]("orders", raws) {
			if !yield(o, err) {
				return
			}
		}
	}
}

// collectOrders materializes one customer's orders.
func (c *Client) collectOrders(ctx context.Context, customerID int) ([]Order, error) {
	orders := []Order{}
	for o, err := range c.OrdersFor(ctx, customerID) {
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// decodeRecords turns raw records into T, stopping at the first error.
func decodeRecords[T any](name string, raws iter.Seq2[json.RawMessage, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for raw, err := range raws {
			var v T
			if err != nil {
				yield(v, err)
				return
			}
			if err := json.Unmarshal(raw, &v); err != nil {
				yield(v, upstream.Decode(name, err))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}
