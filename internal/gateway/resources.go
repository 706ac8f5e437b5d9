package gateway

import (
	"context"
	"fmt"
	"net/http"

	"fintrack/internal/core"
)

// List is a read-only collection endpoint.
type List[T any] struct {
	c    *Client
	name string
}

func NewList[T any](c *Client, name string) *List[T] {
	return &List[T]{c: c, name: name}
}

// List fetches GET /<name>. A JSON null collection decodes as empty.
func (l *List[T]) List(ctx context.Context) ([]T, error) {
	items, err := call[[]T](ctx, l.c, request{method: http.MethodGet, path: "/" + l.name, resource: l.name}, l.name)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Single is a one-document endpoint such as /Balance.
type Single[T any] struct {
	c    *Client
	name string
}

func NewSingle[T any](c *Client, name string) *Single[T] {
	return &Single[T]{c: c, name: name}
}

func (s *Single[T]) Get(ctx context.Context) (T, error) {
	return call[T](ctx, s.c, request{method: http.MethodGet, path: "/" + s.name, resource: s.name}, s.name)
}

// Endpoint is a list resource with per-record writes:
// GET and POST on /<plural>, PUT and DELETE on /<singular>/{id}.
type Endpoint[T, In any] struct {
	c        *Client
	all      *List[T]
	name     string
	singular string
}

func NewCollection[T, In any](c *Client, plural, singular string) *Endpoint[T, In] {
	return &Endpoint[T, In]{c: c, all: NewList[T](c, plural), name: plural, singular: singular}
}

func (col *Endpoint[T, In]) List(ctx context.Context) ([]T, error) {
	return col.all.List(ctx)
}

func (col *Endpoint[T, In]) Create(ctx context.Context, in In) (T, error) {
	return call[T](ctx, col.c, request{
		method:   http.MethodPost,
		path:     "/" + col.name,
		resource: col.name,
		body:     in,
	}, col.singular)
}

func (col *Endpoint[T, In]) Update(ctx context.Context, id int64, in In) (T, error) {
	return call[T](ctx, col.c, request{
		method:   http.MethodPut,
		path:     fmt.Sprintf("/%s/%d", col.singular, id),
		resource: col.singular,
		body:     in,
	}, col.singular)
}

func (col *Endpoint[T, In]) Delete(ctx context.Context, id int64) error {
	_, err := col.c.do(ctx, request{
		method:   http.MethodDelete,
		path:     fmt.Sprintf("/%s/%d", col.singular, id),
		resource: col.singular,
	})
	return err
}

type currentGoal struct {
	*Single[core.Goal]
}

// Select makes goalID the current goal via PUT /CurrentGoal/{id}.
func (g *currentGoal) Select(ctx context.Context, goalID int64) (core.Goal, error) {
	return call[core.Goal](ctx, g.c, request{
		method:   http.MethodPut,
		path:     fmt.Sprintf("/%s/%d", g.name, goalID),
		resource: g.name,
	}, g.name)
}

var (
	_ Collection[core.Credit, core.CreditInput] = (*Endpoint[core.Credit, core.CreditInput])(nil)
	_ CurrentGoalAPI                            = (*currentGoal)(nil)
	_ ListReader[core.Reminder]                 = (*List[core.Reminder])(nil)
)
