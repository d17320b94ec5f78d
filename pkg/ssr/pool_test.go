package ssr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/weftworks/weft/pkg/dispatch"
	"github.com/weftworks/weft/pkg/isr"
	"github.com/weftworks/weft/pkg/reqctx"
)

type stubTree struct {
	contexts []any
	render   func(ctx context.Context, w io.Writer) error
}

func (t *stubTree) ProvideContext(v any) { t.contexts = append(t.contexts, v) }

func (t *stubTree) Render(ctx context.Context, w io.Writer) error { return t.render(ctx, w) }

func testParts(path string) reqctx.Parts {
	return reqctx.Parts{
		Method: http.MethodGet,
		URL:    &url.URL{Path: path},
		Header: make(http.Header),
	}
}

func newTestPool(t *testing.T, cache *isr.Cache) *Pool {
	t.Helper()
	d := dispatch.New(2, nil)
	t.Cleanup(d.Close)
	return NewPool(d, cache, nil)
}

func TestRenderTo_StreamsBodyAndHeaders(t *testing.T) {
	p := newTestPool(t, nil)

	outcome, err := p.RenderTo(context.Background(), testParts("/"), func() Tree {
		return &stubTree{render: func(ctx context.Context, w io.Writer) error {
			rc := reqctx.MustFromContext(ctx)
			rc.SetResponseHeader("X-Custom", "yes")
			rc.SetStatus(http.StatusCreated)
			io.WriteString(w, "<html>")
			io.WriteString(w, "</html>")
			return nil
		}}
	})
	if err != nil {
		t.Fatalf("RenderTo error = %v", err)
	}
	defer outcome.Body.Close()

	if outcome.Status != http.StatusCreated {
		t.Fatalf("Status = %d, want %d", outcome.Status, http.StatusCreated)
	}
	if got := outcome.Header.Get("X-Custom"); got != "yes" {
		t.Fatalf("X-Custom = %q, want %q", got, "yes")
	}

	body, err := io.ReadAll(outcome.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != "<html></html>" {
		t.Fatalf("body = %q, want %q", body, "<html></html>")
	}
}

func TestRenderTo_EmptyPageIsSuccess(t *testing.T) {
	p := newTestPool(t, nil)

	outcome, err := p.RenderTo(context.Background(), testParts("/empty"), func() Tree {
		return &stubTree{render: func(ctx context.Context, w io.Writer) error { return nil }}
	})
	if err != nil {
		t.Fatalf("RenderTo error = %v", err)
	}
	defer outcome.Body.Close()

	if outcome.Status != http.StatusOK {
		t.Fatalf("Status = %d, want %d", outcome.Status, http.StatusOK)
	}
	body, _ := io.ReadAll(outcome.Body)
	if len(body) != 0 {
		t.Fatalf("body = %q, want empty", body)
	}
}

func TestRenderTo_HTTPErrorPassesThrough(t *testing.T) {
	p := newTestPool(t, nil)

	_, err := p.RenderTo(context.Background(), testParts("/missing"), func() Tree {
		return &stubTree{render: func(ctx context.Context, w io.Writer) error {
			return NotFound()
		}}
	})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("RenderTo error = %v, want *HTTPError", err)
	}
	if httpErr.Status != http.StatusNotFound {
		t.Fatalf("Status = %d, want %d", httpErr.Status, http.StatusNotFound)
	}
}

func TestRenderTo_GenericErrorBecomesIncremental(t *testing.T) {
	p := newTestPool(t, nil)

	_, err := p.RenderTo(context.Background(), testParts("/"), func() Tree {
		return &stubTree{render: func(ctx context.Context, w io.Writer) error {
			return fmt.Errorf("disk full")
		}}
	})

	var incErr *IncrementalError
	if !errors.As(err, &incErr) {
		t.Fatalf("RenderTo error = %v, want *IncrementalError", err)
	}
	if incErr.Error() != "disk full" {
		t.Fatalf("error text = %q, want %q", incErr.Error(), "disk full")
	}
}

func TestRenderTo_PanicBecomesWorkerError(t *testing.T) {
	p := newTestPool(t, nil)

	_, err := p.RenderTo(context.Background(), testParts("/"), func() Tree {
		return &stubTree{render: func(ctx context.Context, w io.Writer) error {
			panic("tree exploded")
		}}
	})

	var workerErr *dispatch.WorkerError
	if !errors.As(err, &workerErr) {
		t.Fatalf("RenderTo error = %v, want *dispatch.WorkerError", err)
	}

	// The pool still renders afterwards.
	outcome, err := p.RenderTo(context.Background(), testParts("/ok"), func() Tree {
		return &stubTree{render: func(ctx context.Context, w io.Writer) error {
			io.WriteString(w, "ok")
			return nil
		}}
	})
	if err != nil {
		t.Fatalf("RenderTo after panic error = %v", err)
	}
	outcome.Body.Close()
}

func TestRenderTo_FreshTreePerRequest(t *testing.T) {
	p := newTestPool(t, nil)

	var built atomic.Int64
	factory := func() Tree {
		built.Add(1)
		return &stubTree{render: func(ctx context.Context, w io.Writer) error {
			io.WriteString(w, "x")
			return nil
		}}
	}

	for i := 0; i < 3; i++ {
		outcome, err := p.RenderTo(context.Background(), testParts("/"), factory)
		if err != nil {
			t.Fatalf("RenderTo #%d error = %v", i, err)
		}
		io.Copy(io.Discard, outcome.Body)
		outcome.Body.Close()
	}

	if got := built.Load(); got != 3 {
		t.Fatalf("trees built = %d, want 3", got)
	}
}

func TestRenderTo_ReplaysFromIncrementalCache(t *testing.T) {
	cache := isr.NewCache(&isr.Config{MaxAge: time.Minute})
	p := newTestPool(t, cache)

	var built atomic.Int64
	factory := func() Tree {
		built.Add(1)
		return &stubTree{render: func(ctx context.Context, w io.Writer) error {
			io.WriteString(w, "cached page")
			return nil
		}}
	}

	first, err := p.RenderTo(context.Background(), testParts("/page"), factory)
	if err != nil {
		t.Fatalf("first RenderTo error = %v", err)
	}
	body, _ := io.ReadAll(first.Body)
	first.Body.Close()
	if string(body) != "cached page" {
		t.Fatalf("first body = %q, want %q", body, "cached page")
	}
	if first.Freshness.MaxAge != time.Minute {
		t.Fatalf("first Freshness.MaxAge = %v, want %v", first.Freshness.MaxAge, time.Minute)
	}

	// Recording happens on the worker after the stream closes; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, _, ok := cache.Lookup(context.Background(), "/page"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("rendered page was never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	second, err := p.RenderTo(context.Background(), testParts("/page"), factory)
	if err != nil {
		t.Fatalf("second RenderTo error = %v", err)
	}
	body, _ = io.ReadAll(second.Body)
	second.Body.Close()
	if string(body) != "cached page" {
		t.Fatalf("second body = %q, want %q", body, "cached page")
	}
	if got := built.Load(); got != 1 {
		t.Fatalf("trees built = %d, want 1 (second render should replay from cache)", got)
	}
}

func TestRenderTo_CancelledBeforeFirstByte(t *testing.T) {
	p := newTestPool(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release := make(chan struct{})
	defer close(release)

	_, err := p.RenderTo(ctx, testParts("/"), func() Tree {
		return &stubTree{render: func(ctx context.Context, w io.Writer) error {
			<-release
			return nil
		}}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RenderTo error = %v, want %v", err, context.Canceled)
	}
}
