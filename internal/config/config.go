package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	CustomersURI    *url.URL
	OrdersURI       *url.URL
	EdgeAddr        string
	DiagnosticsAddr string
	UpstreamTimeout time.Duration
	JoinConcurrency int
	LogLevel        slog.Level
	OTLPEndpoint    string
	TracingStdout   bool
	GinMode         string
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// Load reads the environment, after loading .env if it exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	var err error

	if cfg.CustomersURI, err = parseURI("CRM_CUSTOMERS_URI", getenv("CRM_CUSTOMERS_URI", "http://localhost:8080")); err != nil {
		return cfg, err
	}
	if cfg.OrdersURI, err = parseURI("CRM_ORDERS_URI", getenv("CRM_ORDERS_URI", "tcp://localhost:8181")); err != nil {
		return cfg, err
	}
	if cfg.OrdersURI.Port() == "" {
		return cfg, fmt.Errorf("CRM_ORDERS_URI %q: port is required", cfg.OrdersURI)
	}

	cfg.EdgeAddr = getenv("EDGE_ADDR", ":9999")
	cfg.DiagnosticsAddr = getenv("DIAGNOSTICS_ADDR", ":9090")

	if cfg.UpstreamTimeout, err = time.ParseDuration(getenv("UPSTREAM_TIMEOUT", "10s")); err != nil {
		return cfg, fmt.Errorf("UPSTREAM_TIMEOUT: %w", err)
	}
	if cfg.UpstreamTimeout <= 0 {
		return cfg, fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", cfg.UpstreamTimeout)
	}
	if cfg.JoinConcurrency, err = strconv.Atoi(getenv("JOIN_CONCURRENCY", "16")); err != nil {
		return cfg, fmt.Errorf("JOIN_CONCURRENCY: %w", err)
	}
	if err = cfg.LogLevel.UnmarshalText([]byte(getenv("LOG_LEVEL", "info"))); err != nil {
		return cfg, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if cfg.TracingStdout, err = strconv.ParseBool(getenv("TRACING_STDOUT", "false")); err != nil {
		return cfg, fmt.Errorf("TRACING_STDOUT: %w", err)
	}
	cfg.GinMode = getenv("GIN_MODE", "release")

	return cfg, nil
}

// OrdersTarget is the host:port the gRPC connection dials.
func (c Config) OrdersTarget() string {
	return net.JoinHostPort(c.OrdersURI.Hostname(), c.OrdersURI.Port())
}

// Log prints the effective configuration.
func (c Config) Log(logger *slog.Logger) {
	logger.Info("[config]",
		"CRM_CUSTOMERS_URI", c.CustomersURI.String(),
		"CRM_ORDERS_URI", c.OrdersURI.String(),
		"EDGE_ADDR", c.EdgeAddr,
		"DIAGNOSTICS_ADDR", c.DiagnosticsAddr,
		"UPSTREAM_TIMEOUT", c.UpstreamTimeout.String(),
		"JOIN_CONCURRENCY", c.JoinConcurrency,
		"LOG_LEVEL", c.LogLevel.String(),
		"OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint,
	)
}

func parseURI(key, raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return nil, fmt.Errorf("%s %q: scheme and host are required", key, raw)
	}
	return u, nil
}
