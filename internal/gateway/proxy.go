// Package gateway forwards /proxy to the customers service.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/MikeMC777/crm-edge/internal/tracing"
)

// TargetPath replaces whatever path the proxied request carried.
const TargetPath = "/customers"

const allowOriginHeader = "Access-Control-Allow-Origin"

// Proxy rewrites requests to <customers base>/customers and forwards them.
// Backend responses, error statuses included, pass through unchanged apart
// from Access-Control-Allow-Origin: *. When no backend response arrives the
// client gets 502 without that header.
type Proxy struct {
	rp     *httputil.ReverseProxy
	logger *slog.Logger
}

func NewProxy(customersBase *url.URL, logger *slog.Logger, tracer tracing.Tracer) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = tracing.Nop()
	}
	target := &url.URL{Scheme: customersBase.Scheme, Host: customersBase.Host}

	p := &Proxy{logger: logger}
	p.rp = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.Out.URL.Path = TargetPath
			r.Out.URL.RawPath = ""
			r.SetXForwarded()
			tracer.InjectHTTP(r.In.Context(), r.Out.Header)
		},
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Set(allowOriginHeader, "*")
			return nil
		},
		ErrorHandler: p.fail,
		// Customers are streamed; do not hold chunks back.
		FlushInterval: -1,
	}
	return p
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.rp.ServeHTTP(w, r)
}

func (p *Proxy) fail(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Warn("[proxy] customers backend unreachable",
		"method", r.Method, "path", r.URL.Path, "error", err)

	w.Header().Del(allowOriginHeader)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "customers service unavailable"})
}
