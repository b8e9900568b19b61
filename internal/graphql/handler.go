package graphql

import (
	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/transport"
)

// NewHandler serves exec over HTTP: POST with a JSON body, or GET with
// query, operationName and variables in the URL. Introspection stays off.
func NewHandler(exec *Executor) *handler.Server {
	srv := handler.New(exec)
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})
	return srv
}
