// Package server exposes a graph over HTTP. It parses requests, runs the
// engine, and writes the response envelope.
package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/lazygraph/lazygraph/internal/engine"
	"github.com/lazygraph/lazygraph/internal/eventbus"
	"github.com/lazygraph/lazygraph/internal/events"
	"github.com/lazygraph/lazygraph/internal/graph"
	"github.com/lazygraph/lazygraph/internal/reqid"
)

const errBodyTooLargeMessage = "request body too large"

// Handler is an http.Handler serving resolve requests against one graph.
type Handler struct {
	graph     *graph.Graph
	validator engine.InputValidator
	opt       Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has
	// none. 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	validator engine.InputValidator
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// WithValidator attaches structural input validation to every request.
func WithValidator(v engine.InputValidator) Option {
	return func(o *Options) { o.validator = v }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates an HTTP handler over a built graph.
func New(g *graph.Graph, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{graph: g, validator: op.validator, opt: op}
}

// ResolveRequest is the wire form of one resolve call.
type ResolveRequest struct {
	// Query is a single path string or an array of paths.
	Query any `json:"query"`
	// Input is the document to evaluate against.
	Input map[string]any `json:"input"`
	// Debug requests the evaluation trace alongside the output.
	Debug bool `json:"debug,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, _ = reqid.NewContext(ctx)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Method: r.Method, Target: r.URL.Path})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method == http.MethodGet {
		writeJSON(w, status, map[string]any{"status": "ok"}, h.opt.Pretty)
		return
	}

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, engine.Result{Err: "method not allowed"}, h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	req, errMsg := parseRequest(r, h.opt.MaxBodyBytes)
	if errMsg != "" {
		status = http.StatusBadRequest
		if errMsg == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, engine.Result{Err: errMsg}, h.opt.Pretty)
		return
	}

	res := h.resolveOne(ctx, req)
	writeJSON(w, status, res, h.opt.Pretty)
}

func (h *Handler) resolveOne(ctx context.Context, req ResolveRequest) engine.Result {
	var opts []engine.Option
	if req.Debug {
		opts = append(opts, engine.WithDebug())
	}
	if h.validator != nil {
		opts = append(opts, engine.WithValidator(h.validator))
	}
	ec := engine.NewContext(h.graph, req.Input, opts...)

	switch q := req.Query.(type) {
	case nil:
		return ec.ResolveCtx(ctx, "")
	case string:
		return ec.ResolveCtx(ctx, q)
	case []any:
		queries := make([]string, 0, len(q))
		for _, e := range q {
			s, ok := e.(string)
			if !ok {
				return engine.Result{Err: "query array elements must be strings"}
			}
			queries = append(queries, s)
		}
		return ec.ResolveAllCtx(ctx, queries)
	}
	return engine.Result{Err: "query must be a string or an array of strings"}
}

func parseRequest(r *http.Request, maxBody int64) (ResolveRequest, string) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return ResolveRequest{}, "unsupported content type"
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return ResolveRequest{}, "failed to read body"
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return ResolveRequest{}, errBodyTooLargeMessage
	}

	var req ResolveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return ResolveRequest{}, "invalid JSON"
	}
	return req, ""
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, c CORSOptions) {
	origin := r.Header.Get("Origin")
	allowed := ""
	for _, o := range c.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = o
			break
		}
	}
	if allowed == "" {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", allowed)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}
