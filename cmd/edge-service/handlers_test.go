package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeMC777/crm-edge/internal/crm"
	"github.com/MikeMC777/crm-edge/internal/crmtest"
	"github.com/MikeMC777/crm-edge/internal/gateway"
	"github.com/MikeMC777/crm-edge/internal/graphql"
	"github.com/MikeMC777/crm-edge/internal/httpstream"
	"github.com/MikeMC777/crm-edge/internal/upstream"
)

//
// ---------- STUBS & FAKES ----------
//

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// stubSource yields fixed pairs, then err if set.
type stubSource struct {
	pairs []crm.CustomerOrders
	err   error
}

func (s stubSource) CustomerOrders(context.Context) iter.Seq2[crm.CustomerOrders, error] {
	return func(yield func(crm.CustomerOrders, error) bool) {
		for _, p := range s.pairs {
			if !yield(p, nil) {
				return
			}
		}
		if s.err != nil {
			yield(crm.CustomerOrders{}, s.err)
		}
	}
}

var (
	ada = crm.CustomerOrders{Customer: crm.Customer{ID: 1, Name: "Ada"}, Orders: []crm.Order{{ID: 10, CustomerID: 1}}}
	lin = crm.CustomerOrders{Customer: crm.Customer{ID: 2, Name: "Lin"}}
)

func init() { gin.SetMode(gin.TestMode) }

func cosRouter(src customerOrdersSource) *gin.Engine {
	r := gin.New()
	r.GET("/cos", customerOrdersHandler(src, quiet))
	return r
}

func getCOS(r http.Handler, accept string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/cos", nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	r.ServeHTTP(w, req)
	return w
}

// backendClient wires a real aggregator to in-process backends.
func backendClient(t *testing.T, customers *crmtest.CustomersBackend, orders *crmtest.OrdersBackend) *crm.Client {
	t.Helper()
	c, err := crm.NewClient(customers.BaseURL(),
		httpstream.NewClient("customers", 2*time.Second, nil),
		orders.Requester(t, 5*time.Second),
		crm.WithLogger(quiet))
	require.NoError(t, err)
	return c
}

//
// ---------- TESTS ----------
//

func TestCOS_JSONArray(t *testing.T) {
	t.Parallel()
	w := getCOS(cosRouter(stubSource{pairs: []crm.CustomerOrders{ada, lin}}), "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `[
		{"customer":{"id":1,"name":"Ada"},"orders":[{"id":10,"customerId":1}]},
		{"customer":{"id":2,"name":"Lin"},"orders":[]}
	]`, w.Body.String())
	assert.Empty(t, w.Result().Trailer.Get(streamErrorTrailer))
}

func TestCOS_Empty(t *testing.T) {
	t.Parallel()
	w := getCOS(cosRouter(stubSource{}), "application/json")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

func TestCOS_NDJSON(t *testing.T) {
	t.Parallel()
	w := getCOS(cosRouter(stubSource{pairs: []crm.CustomerOrders{ada, lin}}), "application/x-ndjson")

	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	var first crm.CustomerOrders
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, ada, first)
}

func TestCOS_EventStream(t *testing.T) {
	t.Parallel()
	w := getCOS(cosRouter(stubSource{pairs: []crm.CustomerOrders{ada, lin}}), "text/event-stream")

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, 2, strings.Count(w.Body.String(), "event:message"))
	assert.Contains(t, w.Body.String(), `"name":"Lin"`)
}

func TestCOS_ErrorBeforeFirstRecord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unavailable", upstream.Unavailable("customers", errors.New("connection refused")), http.StatusBadGateway},
		{"decode", upstream.Decode("customers", errors.New("unexpected EOF")), http.StatusBadGateway},
		{"join", &crm.JoinError{CustomerID: 2, Err: upstream.Unavailable("orders", errors.New("reset"))}, http.StatusBadGateway},
		{"timeout", upstream.Unavailable("customers", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := getCOS(cosRouter(stubSource{err: tt.err}), "")

			assert.Equal(t, tt.want, w.Code)
			var body apiError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.err.Error(), body.Error)
		})
	}
}

func TestCOS_ErrorAfterFirstRecord(t *testing.T) {
	t.Parallel()
	joinErr := &crm.JoinError{CustomerID: 2, Err: upstream.Unavailable("orders", errors.New("reset"))}

	w := getCOS(cosRouter(stubSource{pairs: []crm.CustomerOrders{ada}, err: joinErr}), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), `[{"customer":{"id":1`))
	assert.False(t, strings.HasSuffix(w.Body.String(), "]"))
	assert.Equal(t, joinErr.Error(), w.Result().Trailer.Get(streamErrorTrailer))

	w = getCOS(cosRouter(stubSource{pairs: []crm.CustomerOrders{ada}, err: joinErr}), "text/event-stream")
	assert.Contains(t, w.Body.String(), "event:error")
	assert.Equal(t, joinErr.Error(), w.Result().Trailer.Get(streamErrorTrailer))
}

func TestCOS_CustomersUnavailable(t *testing.T) {
	t.Parallel()
	customers := crmtest.NewCustomersBackend(t)
	orders := crmtest.NewOrdersBackend(t)
	client := backendClient(t, customers, orders)
	customers.Close()

	w := getCOS(cosRouter(client), "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "upstream unavailable")
}

func TestCOS_ClientDisconnectCancelsOutstandingFetch(t *testing.T) {
	t.Parallel()
	customers := crmtest.NewCustomersBackend(t, crm.Customer{ID: 1, Name: "Ada"}, crm.Customer{ID: 2, Name: "Lin"})
	orders := crmtest.NewOrdersBackend(t)
	orders.SetOrders(1, crm.Order{ID: 10, CustomerID: 1})
	orders.Block(2)

	srv := httptest.NewServer(cosRouter(backendClient(t, customers, orders)))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/cos", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"name":"Ada"`)

	cancel()
	resp.Body.Close()

	select {
	case cid := <-orders.Canceled():
		assert.Equal(t, 2, cid)
	case <-time.After(3 * time.Second):
		t.Fatal("orders fetch for customer 2 was not cancelled after the client left")
	}
}

func TestRouter(t *testing.T) {
	t.Parallel()

	customers := crmtest.NewCustomersBackend(t, crm.Customer{ID: 1, Name: "Ada"})
	orders := crmtest.NewOrdersBackend(t)
	orders.SetOrders(1, crm.Order{ID: 10, CustomerID: 1})
	client := backendClient(t, customers, orders)

	r := newRouter(routerDeps{
		CustomerOrders: client,
		GraphQL:        graphql.NewHandler(graphql.NewExecutor(client, graphql.WithLogger(quiet))),
		Proxy:          gateway.NewProxy(customers.BaseURL(), quiet, nil),
		Logger:         quiet,
	})

	t.Run("healthz", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", w.Body.String())
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("cos", func(t *testing.T) {
		w := getCOS(r, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[{"customer":{"id":1,"name":"Ada"},"orders":[{"id":10,"customerId":1}]}]`, w.Body.String())
	})

	t.Run("graphql", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/graphql",
			strings.NewReader(`{"query":"{ customers { name orders { id } } }"}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":{"customers":[{"name":"Ada","orders":[{"id":10}]}]}}`, w.Body.String())
	})

	t.Run("proxy", func(t *testing.T) {
		// ReverseProxy needs a real connection; a recorder is not a CloseNotifier.
		srv := httptest.NewServer(r)
		defer srv.Close()

		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
			req, err := http.NewRequest(method, srv.URL+"/proxy", nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode, method)
			assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"), method)
			assert.Equal(t, method, customers.LastRequest().Method)
			assert.Equal(t, "/customers", customers.LastRequest().URL.Path)
		}
	})

	t.Run("swagger", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"/cos"`)
	})
}

func TestRouter_ProxyUnreachable(t *testing.T) {
	t.Parallel()

	customers := crmtest.NewCustomersBackend(t)
	base := customers.BaseURL()
	customers.Close()

	r := newRouter(routerDeps{
		CustomerOrders: stubSource{},
		GraphQL:        http.NotFoundHandler(),
		Proxy:          gateway.NewProxy(base, quiet, nil),
		Logger:         quiet,
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/proxy")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"), fmt.Sprintf("headers: %v", resp.Header))
}
