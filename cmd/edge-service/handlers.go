package main

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MikeMC777/crm-edge/internal/crm"
	"github.com/MikeMC777/crm-edge/internal/httpx"
	"github.com/MikeMC777/crm-edge/internal/upstream"
)

const (
	mimeJSON   = "application/json"
	mimeNDJSON = "application/x-ndjson"
	mimeSSE    = "text/event-stream"

	streamErrorTrailer = "X-Stream-Error"
)

type apiError struct {
	Error string `json:"error" example:"customers: upstream unavailable: connection refused"`
}

type customerOrdersSource interface {
	CustomerOrders(ctx context.Context) iter.Seq2[crm.CustomerOrders, error]
}

// healthzHandler godoc
// @Summary  Liveness
// @Tags     ops
// @Produce  plain
// @Success  200 {string} string "ok"
// @Router   /healthz [get]
func healthzHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// customerOrdersHandler godoc
// @Summary      Customers joined with their orders
// @Description  Streams one record per customer with that customer's orders, in completion order. A failure before the first record is an error status; after it, the X-Stream-Error trailer.
// @Tags         crm
// @Produce      json
// @Produce      application/x-ndjson
// @Produce      text/event-stream
// @Success      200 {array}  crm.CustomerOrders
// @Failure      502 {object} apiError
// @Failure      504 {object} apiError
// @Router       /cos [get]
func customerOrdersHandler(src customerOrdersSource, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		w := newPairWriter(c, c.NegotiateFormat(mimeJSON, mimeNDJSON, mimeSSE))
		rid := httpx.RequestIDFrom(c)

		n := 0
		for pair, err := range src.CustomerOrders(c.Request.Context()) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Info("[cos] client went away", "rid", rid, "sent", n)
					c.Abort()
					return
				}
				_ = c.Error(err)
				if !w.started {
					c.JSON(statusFor(err), apiError{Error: err.Error()})
					return
				}
				logger.Warn("[cos] stream failed after first record", "rid", rid, "sent", n, "error", err)
				w.fail(err)
				return
			}
			if err := w.write(pair); err != nil {
				// Stopping the range cancels the outstanding fetches.
				logger.Info("[cos] write failed", "rid", rid, "sent", n, "error", err)
				return
			}
			n++
		}
		_ = w.end()
	}
}

// statusFor maps an error that ended /cos before any record was sent.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, upstream.ErrUnavailable),
		errors.Is(err, upstream.ErrDecode),
		errors.Is(err, crm.ErrJoin):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// pairWriter renders CustomerOrders in one of three framings: a JSON array
// written element by element, newline-delimited JSON, or server-sent events.
type pairWriter struct {
	c       *gin.Context
	format  string
	started bool
}

func newPairWriter(c *gin.Context, format string) *pairWriter {
	if format == "" {
		format = mimeJSON
	}
	return &pairWriter{c: c, format: format}
}

func (p *pairWriter) start() error {
	if p.started {
		return nil
	}
	p.started = true

	h := p.c.Writer.Header()
	h.Set("Content-Type", p.format)
	h.Set("Trailer", streamErrorTrailer)
	if p.format == mimeSSE {
		h.Set("Cache-Control", "no-cache")
	}
	p.c.Status(http.StatusOK)
	if p.format == mimeJSON {
		return p.raw("[")
	}
	p.c.Writer.WriteHeaderNow()
	return nil
}

func (p *pairWriter) write(pair crm.CustomerOrders) error {
	first := !p.started
	if err := p.start(); err != nil {
		return err
	}

	if p.format == mimeSSE {
		p.c.SSEvent("message", pair)
		p.c.Writer.Flush()
		return p.c.Request.Context().Err()
	}

	b, err := json.Marshal(pair)
	if err != nil {
		return err
	}
	switch {
	case p.format == mimeNDJSON:
		b = append(b, '\n')
	case !first:
		b = append([]byte{','}, b...)
	}
	return p.raw(string(b))
}

// end closes a complete stream.
func (p *pairWriter) end() error {
	if err := p.start(); err != nil {
		return err
	}
	if p.format == mimeJSON {
		return p.raw("]")
	}
	return nil
}

// fail reports an error after records went out. A JSON array is left
// unterminated.
func (p *pairWriter) fail(err error) {
	if p.format == mimeSSE {
		p.c.SSEvent("error", apiError{Error: err.Error()})
	}
	p.c.Writer.Header().Set(streamErrorTrailer, err.Error())
	p.c.Writer.Flush()
}

func (p *pairWriter) raw(s string) error {
	if _, err := p.c.Writer.WriteString(s); err != nil {
		return err
	}
	p.c.Writer.Flush()
	return nil
}
