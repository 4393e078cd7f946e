package engine

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/lazygraph/lazygraph/internal/eventbus"
	"github.com/lazygraph/lazygraph/internal/events"
	"github.com/lazygraph/lazygraph/internal/graph"
	"github.com/lazygraph/lazygraph/internal/pathexpr"
)

// InputValidator structurally validates a decoded input document before
// evaluation. Implemented by the schema package's JSON Schema adapter.
type InputValidator interface {
	Validate(doc any) error
}

// Result is the response envelope for one resolve call.
type Result struct {
	Output     any          `json:"output"`
	DebugTrace []TraceEntry `json:"debug_trace"`
	Err        string       `json:"err,omitempty"`
	Status     string       `json:"status,omitempty"`
}

// Context is the per-input-document façade over a shared Graph. It is not
// safe for concurrent use; each call builds fresh evaluation state, so
// serial queries on one Context always see isolated results.
type Context struct {
	graph     *graph.Graph
	input     map[string]any
	debug     bool
	validator InputValidator
}

// Option configures a Context.
type Option func(*Context)

// WithDebug enables trace collection on every resolve.
func WithDebug() Option { return func(c *Context) { c.debug = true } }

// WithValidator attaches structural input validation.
func WithValidator(v InputValidator) Option {
	return func(c *Context) { c.validator = v }
}

// NewContext binds an input document to a graph. The document is never
// mutated; each resolve deep-copies it first.
func NewContext(g *graph.Graph, input map[string]any, opts ...Option) *Context {
	c := &Context{graph: g, input: input}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve evaluates one query path and returns the envelope. Parse
// failures surface as a value-less err.
func (c *Context) Resolve(query string) Result {
	return c.ResolveCtx(context.Background(), query)
}

// ResolveCtx is Resolve with a caller context for event correlation.
func (c *Context) ResolveCtx(ctx context.Context, query string) Result {
	p, err := pathexpr.Parse(query, true)
	if err != nil {
		return Result{Err: err.Error()}
	}
	return c.run(ctx, query, p)
}

// ResolveAll evaluates several query paths; the output is their
// structural union, merged under preserved keys.
func (c *Context) ResolveAll(queries []string) Result {
	return c.ResolveAllCtx(context.Background(), queries)
}

// ResolveAllCtx is ResolveAll with a caller context.
func (c *Context) ResolveAllCtx(ctx context.Context, queries []string) Result {
	if len(queries) == 1 {
		return c.ResolveCtx(ctx, queries[0])
	}
	opts := make([]*pathexpr.Path, 0, len(queries))
	for _, q := range queries {
		p, err := pathexpr.Parse(q, true)
		if err != nil {
			return Result{Err: err.Error()}
		}
		opts = append(opts, p)
	}
	union := pathexpr.New(pathexpr.Group{Options: opts})
	return c.run(ctx, fmt.Sprintf("%v", queries), union)
}

// Get resolves and returns the bare output, converting envelope errors
// back into Go errors.
func (c *Context) Get(query string) (any, error) {
	res := c.Resolve(query)
	if res.Err != "" {
		return nil, fmt.Errorf("%s", res.Err)
	}
	return res.Output, nil
}

// GetJSON resolves and serializes the strip-missing view: Missing values
// and invisible fields are dropped, cycles become a sentinel.
func (c *Context) GetJSON(query string) ([]byte, error) {
	p, err := pathexpr.Parse(query, true)
	if err != nil {
		return nil, err
	}
	res := c.run(context.Background(), query, p)
	if res.Err != "" {
		return nil, fmt.Errorf("%s", res.Err)
	}
	leaf := leafNode(c.graph.Root, p)
	return json.Marshal(stripForJSON(res.Output, leaf))
}

// Debug resolves with tracing forced on and returns the trace.
func (c *Context) Debug(query string) ([]TraceEntry, error) {
	p, err := pathexpr.Parse(query, true)
	if err != nil {
		return nil, err
	}
	saved := c.debug
	c.debug = true
	res := c.run(context.Background(), query, p)
	c.debug = saved
	if res.Err != "" {
		return res.DebugTrace, fmt.Errorf("%s", res.Err)
	}
	return res.DebugTrace, nil
}

// run performs one full evaluation: copy input, validate, resolve from
// the root, recover recoverable errors into the envelope.
func (c *Context) run(ctx context.Context, label string, p *pathexpr.Path) (res Result) {
	start := time.Now()
	eventbus.Publish(ctx, events.QueryStart{Query: label, Debug: c.debug})
	defer func() {
		eventbus.Publish(ctx, events.QueryFinish{Query: label, Err: res.Err, Duration: time.Since(start)})
	}()

	ev := newEvaluation(c.debug)
	defer func() {
		if c.debug {
			res.DebugTrace = ev.trace
		}
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *AbortError:
				res.Err = e.Error()
				res.Status = "abort"
			case *ValidationError:
				res.Err = e.Error()
			case error:
				res.Err = e.Error()
			default:
				res.Err = fmt.Sprintf("%v", r)
			}
			res.Output = nil
		}
	}()

	root := copyTree(c.input).(map[string]any)
	if root == nil {
		root = map[string]any{}
	}
	if c.validator != nil {
		if err := c.validator.Validate(root); err != nil {
			return Result{Err: (&ValidationError{Msg: err.Error()}).Error()}
		}
	}

	sp := NewStack(root)
	defer sp.Release()

	res.Output = ev.resolve(c.graph.Root, p, sp)
	return res
}
