package graphql

import (
	"context"
	"errors"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/MikeMC777/crm-edge/internal/crm"
	"github.com/MikeMC777/crm-edge/internal/upstream"
)

// Extension codes carried in errors[].extensions.code.
const (
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeDecodeError         = "DECODE_ERROR"
	CodeJoinFailure         = "JOIN_FAILURE"
	CodeTimeout             = "TIMEOUT"
	CodeCancelled           = "CANCELLED"
	CodeIntrospectionOff    = "INTROSPECTION_DISABLED"
	CodeInternalError       = "INTERNAL_ERROR"
)

var errIntrospectionDisabled = errors.New("introspection disabled")

// mapError converts a resolver failure to a GraphQL error at path.
func mapError(err error, path ast.Path) *gqlerror.Error {
	var message, code string
	switch {
	case errors.Is(err, errIntrospectionDisabled):
		message, code = err.Error(), CodeIntrospectionOff
	case errors.Is(err, context.Canceled):
		message, code = "request cancelled", CodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		message, code = "upstream timeout exceeded", CodeTimeout
	case errors.Is(err, crm.ErrJoin):
		message, code = err.Error(), CodeJoinFailure
	case errors.Is(err, upstream.ErrDecode):
		message, code = err.Error(), CodeDecodeError
	case errors.Is(err, upstream.ErrUnavailable):
		message, code = err.Error(), CodeUpstreamUnavailable
	default:
		message, code = "internal server error", CodeInternalError
	}
	return &gqlerror.Error{
		Err:        err,
		Message:    message,
		Path:       path,
		Extensions: map[string]interface{}{"code": code},
	}
}

func internalError(err error) *gqlerror.Error {
	return mapError(err, nil)
}
