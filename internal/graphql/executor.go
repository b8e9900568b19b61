// Package graphql serves the CRM schema: root customers, and orders per
// customer resolved concurrently. Executor is a gqlgen ExecutableSchema:
// the gqlgen server parses and validates documents, and execution walks the
// selection set directly.
package graphql

import (
	"cmp"
	"context"
	_ "embed"
	"encoding/json"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"golang.org/x/sync/errgroup"

	"github.com/MikeMC777/crm-edge/internal/crm"
	"github.com/MikeMC777/crm-edge/internal/tracing"
)

//go:embed schema.graphql
var schemaSDL string

// Schema is the parsed CRM schema.
var Schema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphql", Input: schemaSDL})

// Resolver supplies the data behind the schema. *crm.Client implements it.
type Resolver interface {
	Customers(ctx context.Context) iter.Seq2[crm.Customer, error]
	OrdersFor(ctx context.Context, customerID int) iter.Seq2[crm.Order, error]
}

type Executor struct {
	resolver    Resolver
	ordersLimit int
	tracer      tracing.Tracer
	logger      *slog.Logger
}

type Option func(*Executor)

// WithOrdersConcurrency bounds how many Customer.orders fields resolve at
// once. n <= 0 removes the bound.
func WithOrdersConcurrency(n int) Option {
	return func(e *Executor) { e.ordersLimit = n }
}

func WithTracer(t tracing.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func NewExecutor(resolver Resolver, opts ...Option) *Executor {
	e := &Executor{
		resolver:    resolver,
		ordersLimit: crm.DefaultJoinConcurrency,
		tracer:      tracing.Nop(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ graphql.ExecutableSchema = (*Executor)(nil)

func (e *Executor) Schema() *ast.Schema {
	return Schema
}

// Complexity leaves every field at its default cost.
func (e *Executor) Complexity(typeName, fieldName string, childComplexity int, args map[string]any) (int, bool) {
	return 0, false
}

// Exec runs the operation already parsed and validated into ctx.
func (e *Executor) Exec(ctx context.Context) graphql.ResponseHandler {
	op := graphql.GetOperationContext(ctx)
	done := false
	return func(ctx context.Context) *graphql.Response {
		if done {
			return nil
		}
		done = true
		return e.Run(ctx, op)
	}
}

// Run executes a validated query. Field failures null the field and add an
// entry to errors; the rest of the data is still returned.
func (e *Executor) Run(ctx context.Context, op *graphql.OperationContext) *graphql.Response {
	name := op.Operation.Name
	if name == "" {
		name = "anonymous"
	}
	ctx, span := e.tracer.Start(ctx, "graphql "+name)
	defer span.End()

	x := &execution{Executor: e, op: op}
	data := x.query(ctx)

	resp := &graphql.Response{Errors: x.sortedErrors()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			resp.Errors = append(resp.Errors, internalError(err))
			return resp
		}
		resp.Data = raw
	}
	return resp
}

// execution is the state of one Run.
type execution struct {
	*Executor
	op *graphql.OperationContext

	mu   sync.Mutex
	errs gqlerror.List
}

func (x *execution) fail(path ast.Path, err error) {
	gqlErr := mapError(err, path)
	x.logger.Warn("graphql field failed", "path", path.String(), "code", gqlErr.Extensions["code"], "error", err)

	x.mu.Lock()
	x.errs = append(x.errs, gqlErr)
	x.mu.Unlock()
}

func (x *execution) sortedErrors() gqlerror.List {
	slices.SortStableFunc(x.errs, func(a, b *gqlerror.Error) int {
		return cmp.Compare(a.Path.String(), b.Path.String())
	})
	return x.errs
}

// query resolves the root selection. A nil result means data is null.
func (x *execution) query(ctx context.Context) object {
	fields := graphql.CollectFields(x.op, x.op.Operation.SelectionSet, []string{"Query"})
	out := make(object, len(fields))
	for i, f := range fields {
		out[i].key = f.Alias
		switch f.Name {
		case "__typename":
			out[i].value = "Query"
		case "customers":
			out[i].value = x.customers(ctx, f)
		case "__schema", "__type":
			// Non-null in the introspection schema, so the null bubbles to data.
			x.fail(ast.Path{ast.PathName(f.Alias)}, errIntrospectionDisabled)
			return nil
		}
	}
	return out
}

func (x *execution) customers(ctx context.Context, f graphql.CollectedField) any {
	path := ast.Path{ast.PathName(f.Alias)}

	var customers []crm.Customer
	for c, err := range x.resolver.Customers(ctx) {
		if err != nil {
			x.fail(path, err)
			return nil
		}
		customers = append(customers, c)
	}

	sub := graphql.CollectFields(x.op, f.Selections, []string{"Customer"})
	var g errgroup.Group
	if x.ordersLimit > 0 {
		g.SetLimit(x.ordersLimit)
	}

	items := make([]any, len(customers))
	for i, c := range customers {
		obj := make(object, len(sub))
		for j, sf := range sub {
			obj[j].key = sf.Alias
			switch sf.Name {
			case "__typename":
				obj[j].value = "Customer"
			case "id":
				obj[j].value = c.ID
			case "name":
				obj[j].value = c.Name
			case "orders":
				slot := &obj[j].value
				fieldPath := append(slices.Clone(path), ast.PathIndex(i), ast.PathName(sf.Alias))
				g.Go(func() error {
					*slot = x.orders(ctx, c.ID, sf, fieldPath)
					return nil
				})
			}
		}
		items[i] = obj
	}
	_ = g.Wait()
	return items
}

func (x *execution) orders(ctx context.Context, customerID int, f graphql.CollectedField, path ast.Path) any {
	sub := graphql.CollectFields(x.op, f.Selections, []string{"Order"})

	items := []any{}
	for o, err := range x.resolver.OrdersFor(ctx, customerID) {
		if err != nil {
			x.fail(path, err)
			return nil
		}
		obj := make(object, len(sub))
		for j, sf := range sub {
			obj[j].key = sf.Alias
			switch sf.Name {
			case "__typename":
				obj[j].value = "Order"
			case "id":
				obj[j].value = o.ID
			case "customerId":
				obj[j].value = o.CustomerID
			}
		}
		items = append(items, obj)
	}
	return items
}
