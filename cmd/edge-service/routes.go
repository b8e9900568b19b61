package main

import (
	"log/slog"
	"net/http"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/MikeMC777/crm-edge/internal/docs"
	"github.com/MikeMC777/crm-edge/internal/httpx"
	"github.com/MikeMC777/crm-edge/internal/tracing"
)

type routerDeps struct {
	CustomerOrders customerOrdersSource
	GraphQL        http.Handler
	Proxy          http.Handler
	Logger         *slog.Logger
	Tracer         tracing.Tracer
	// Metrics is optional.
	Metrics *httpx.Metrics
}

func newRouter(d routerDeps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tracer == nil {
		d.Tracer = tracing.Nop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Tracing(d.Tracer), httpx.Logger(d.Logger))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware())
	}

	r.GET("/healthz", healthzHandler)
	r.GET("/cos", customerOrdersHandler(d.CustomerOrders, d.Logger))

	gql := gin.WrapH(d.GraphQL)
	r.GET("/graphql", gql)
	r.POST("/graphql", gql)
	r.GET("/playground", gin.WrapH(playground.Handler("crm-edge", "/graphql")))

	r.Any("/proxy", gin.WrapH(d.Proxy))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	return r
}
