// Package ssr renders page trees on pinned workers and assembles the result
// into a streamable outcome.
//
// The markup algorithm itself lives behind the Tree interface: the pool only
// guarantees that a tree is constructed, driven, and torn down on a single
// worker, and that whatever it produced comes back as a status, headers,
// freshness metadata, and a body stream, or as a typed failure.
package ssr

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/weftworks/weft/pkg/dispatch"
	"github.com/weftworks/weft/pkg/isr"
	"github.com/weftworks/weft/pkg/reqctx"
)

// Tree is one page's render tree. A tree is built fresh per request, seeded
// with context values, rendered once, and never reused.
//
// Render runs entirely on one pinned worker; the tree may keep state that is
// not safe to move across threads. The ctx passed to Render carries the
// request's reqctx.RequestContext, through which the tree can set the
// response status, headers, and cookies before its first write.
type Tree interface {
	ProvideContext(value any)
	Render(ctx context.Context, w io.Writer) error
}

// TreeFactory produces a fresh Tree instance for one request.
type TreeFactory func() Tree

// Outcome is a successful render: a status, response headers accumulated
// during the render, freshness metadata, and the body stream. The body is
// consumed exactly once and must be closed.
type Outcome struct {
	Status    int
	Header    http.Header
	Freshness isr.Freshness
	Body      io.ReadCloser
}

// Pool renders trees on the execution dispatcher, optionally replaying and
// recording pages through an incremental cache.
type Pool struct {
	dispatcher *dispatch.Pool
	cache      *isr.Cache
	logger     *slog.Logger
}

// NewPool creates a renderer pool. cache may be nil to disable incremental
// caching.
func NewPool(dispatcher *dispatch.Pool, cache *isr.Cache, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{dispatcher: dispatcher, cache: cache, logger: logger}
}

type firstResult struct {
	outcome *Outcome
	err     error
}

// RenderTo renders one request. makeTree is invoked on the pinned worker to
// build the tree; the returned outcome's body streams while the worker keeps
// rendering.
//
// Failures come back typed: *HTTPError and *IncrementalError pass through
// from the tree, a panic on the worker surfaces as *dispatch.WorkerError,
// and any other render error is wrapped in *IncrementalError. If ctx is done
// before the render produces its first output, RenderTo returns ctx.Err()
// and leaves the in-flight unit to finish on its own.
func (p *Pool) RenderTo(ctx context.Context, parts reqctx.Parts, makeTree TreeFactory) (*Outcome, error) {
	cacheKey := parts.URL.Path
	if p.cache != nil && parts.Method == http.MethodGet {
		if entry, freshness, ok := p.cache.Lookup(ctx, cacheKey); ok {
			return &Outcome{
				Status:    entry.Status,
				Header:    entry.Header.Clone(),
				Freshness: freshness,
				Body:      io.NopCloser(bytes.NewReader(entry.Body)),
			}, nil
		}
	}

	first := make(chan firstResult, 1)
	pipe := newChunkPipe()

	// The render outlives the caller when the client disconnects mid-stream,
	// so it runs on a context detached from the request's cancellation.
	renderCtx := context.WithoutCancel(ctx)

	p.dispatcher.Submit(func() {
		defer func() {
			if v := recover(); v != nil {
				err := &dispatch.WorkerError{Value: v, Stack: debug.Stack()}
				select {
				case first <- firstResult{err: err}:
				default:
					p.logger.Error("render panicked after streaming began", "panic", v)
				}
				pipe.closeWrite(err)
			}
		}()

		rc := reqctx.New(parts)
		tree := makeTree()

		w := &renderWriter{pool: p, rc: rc, pipe: pipe, first: first}
		if p.cache != nil && parts.Method == http.MethodGet {
			w.record = &bytes.Buffer{}
		}

		err := tree.Render(reqctx.NewContext(renderCtx, rc), w)
		w.finish(renderCtx, cacheKey, err)
	})

	select {
	case f := <-first:
		if f.err != nil {
			return nil, f.err
		}
		return f.outcome, nil
	case <-ctx.Done():
		pipe.Close()
		return nil, ctx.Err()
	}
}

// renderWriter is the io.Writer handed to Tree.Render. The first write
// snapshots the request context's status and headers and releases the
// outcome to the awaiting caller; everything after that streams.
type renderWriter struct {
	pool  *Pool
	rc    *reqctx.RequestContext
	pipe  *chunkPipe
	first chan<- firstResult

	started bool
	status  int
	header  http.Header
	record  *bytes.Buffer
}

func (w *renderWriter) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	w.start()

	chunk := append([]byte(nil), b...)
	if w.record != nil {
		w.record.Write(chunk)
	}
	if err := w.pipe.send(chunk); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (w *renderWriter) start() {
	if w.started {
		return
	}
	w.started = true
	w.status = w.rc.Status()
	w.header = w.rc.TakeResponseHeaders()

	var freshness isr.Freshness
	if w.record != nil {
		freshness = w.pool.cache.Freshness()
	}
	w.first <- firstResult{outcome: &Outcome{
		Status:    w.status,
		Header:    w.header,
		Freshness: freshness,
		Body:      w.pipe,
	}}
}

// finish completes the stream once Render returns.
func (w *renderWriter) finish(ctx context.Context, cacheKey string, err error) {
	if !w.started {
		if err != nil {
			w.first <- firstResult{err: typedRenderError(err)}
			w.pipe.closeWrite(err)
			return
		}
		// Empty page; still a success.
		w.start()
	} else if err != nil {
		// Headers and status are already on the wire. All that is left is
		// to truncate the stream and log.
		w.pool.logger.Warn("render failed after streaming began", "error", err)
		w.pipe.closeWrite(err)
		return
	}

	w.pipe.closeWrite(nil)

	if w.record != nil {
		entry := &isr.Entry{
			Status: w.status,
			Header: w.header.Clone(),
			Body:   append([]byte(nil), w.record.Bytes()...),
		}
		if _, err := w.pool.cache.Record(ctx, cacheKey, entry); err != nil {
			w.pool.logger.Warn("failed to record rendered page", "key", cacheKey, "error", err)
		}
	}
}

// typedRenderError keeps intentional failures typed and folds everything
// else into IncrementalError.
func typedRenderError(err error) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	var incErr *IncrementalError
	if errors.As(err, &incErr) {
		return incErr
	}
	return &IncrementalError{Err: err}
}
