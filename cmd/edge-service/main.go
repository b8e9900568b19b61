package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/connectivity"

	"github.com/MikeMC777/crm-edge/internal/config"
	"github.com/MikeMC777/crm-edge/internal/crm"
	"github.com/MikeMC777/crm-edge/internal/diagnostics"
	"github.com/MikeMC777/crm-edge/internal/gateway"
	"github.com/MikeMC777/crm-edge/internal/graphql"
	"github.com/MikeMC777/crm-edge/internal/httpstream"
	"github.com/MikeMC777/crm-edge/internal/httpx"
	"github.com/MikeMC777/crm-edge/internal/rpcroute"
	"github.com/MikeMC777/crm-edge/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("edge-service stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	cfg.Log(logger)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exporter, err := tracing.NewExporter(ctx, tracing.ExporterConfig{
		OTLPEndpoint: cfg.OTLPEndpoint,
		Stdout:       cfg.TracingStdout,
	})
	if err != nil {
		return err
	}
	tracer := tracing.NewTracer("crm-edge", exporter)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	orders, err := rpcroute.NewRequester(cfg.OrdersTarget(), rpcroute.Options{
		Name:    "orders",
		Timeout: cfg.UpstreamTimeout,
		Tracer:  tracer,
	})
	if err != nil {
		return err
	}
	defer orders.Close()

	client, err := crm.NewClient(cfg.CustomersURI,
		httpstream.NewClient("customers", cfg.UpstreamTimeout, tracer),
		orders,
		crm.WithJoinConcurrency(cfg.JoinConcurrency),
		crm.WithMetrics(crm.NewMetrics(reg)),
		crm.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	router := newRouter(routerDeps{
		CustomerOrders: client,
		GraphQL: graphql.NewHandler(graphql.NewExecutor(client,
			graphql.WithOrdersConcurrency(cfg.JoinConcurrency),
			graphql.WithTracer(tracer),
			graphql.WithLogger(logger),
		)),
		Proxy:   gateway.NewProxy(cfg.CustomersURI, logger, tracer),
		Logger:  logger,
		Tracer:  tracer,
		Metrics: httpx.NewMetrics(reg),
	})

	srv := &http.Server{
		Addr:              cfg.EdgeAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	diag := diagnostics.NewServer(cfg.DiagnosticsAddr, reg, map[string]diagnostics.Check{
		"orders": func() error {
			switch s := orders.State(); s {
			case connectivity.TransientFailure, connectivity.Shutdown:
				return errors.New("orders connection " + s.String())
			default:
				return nil
			}
		},
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("edge-service listening", "addr", cfg.EdgeAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(diag.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(
			srv.Shutdown(shutdownCtx),
			diag.Shutdown(shutdownCtx),
			tracer.Shutdown(shutdownCtx),
		)
	})
	return g.Wait()
}
