// Package vu holds the state one virtual user carries through its scenario.
package vu

import (
	"context"
	"maps"

	"github.com/drblury/vuflow/internal/runtime/correlation"
	"github.com/drblury/vuflow/internal/runtime/logging"
)

// Reserved variable names bound for every virtual user.
const (
	VarID    = "$vuId"
	VarIndex = "$vuIndex"
)

// Conn is the per-user transport handle the compiled steps publish through.
type Conn interface {
	Publish(ctx context.Context, topic string, payload []byte, metadata map[string]string) error
	Close() error
}

// Context is owned by a single virtual user goroutine and is never shared.
type Context struct {
	ID    string
	Index int

	// Vars is the variable mapping templates render against. Values set inside
	// a loop iteration stay visible afterwards unless overwritten.
	Vars map[string]any

	// Conn is set once after the connect succeeded.
	Conn       Conn
	ReplyTopic string
	Acks       *correlation.Engine

	// Successes counts acknowledges that passed validation.
	Successes int64
	// LastBody is the serialized body of the last settled acknowledge.
	LastBody string

	Logger logging.ServiceLogger
}

// New creates a context seeded with a copy of vars plus the reserved names.
func New(id string, index int, vars map[string]any) *Context {
	v := make(map[string]any, len(vars)+2)
	maps.Copy(v, vars)
	v[VarID] = id
	v[VarIndex] = index
	return &Context{
		ID:     id,
		Index:  index,
		Vars:   v,
		Logger: logging.NewNopServiceLogger(),
	}
}

func (c *Context) Set(name string, value any) {
	c.Vars[name] = value
}

func (c *Context) Get(name string) (any, bool) {
	v, ok := c.Vars[name]
	return v, ok
}

// Merge copies values into the variable mapping, overwriting existing names.
func (c *Context) Merge(values map[string]any) {
	maps.Copy(c.Vars, values)
}

// Connected reports whether a transport handle is set.
func (c *Context) Connected() bool {
	return c.Conn != nil
}
