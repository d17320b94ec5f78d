package weft

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/weftworks/weft/pkg/isr"
	"github.com/weftworks/weft/pkg/reqctx"
	"github.com/weftworks/weft/pkg/ssr"
)

func newRenderApp(t *testing.T, cfg Config, render func(ctx context.Context, w io.Writer) error) *App {
	t.Helper()
	if cfg.Functions == nil {
		cfg.Functions = NewRegistry()
	}
	app := New(cfg, treeFactory(render))
	t.Cleanup(app.Close)
	return app
}

func TestRenderHandler_StreamsPage(t *testing.T) {
	app := newRenderApp(t, Config{}, func(ctx context.Context, w io.Writer) error {
		io.WriteString(w, "<html><body>hello</body></html>")
		return nil
	})

	rr := httptest.NewRecorder()
	app.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/some/page", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := rr.Body.String(); got != "<html><body>hello</body></html>" {
		t.Fatalf("body = %q", got)
	}
}

func TestRenderHandler_TreeControlsStatusAndHeaders(t *testing.T) {
	app := newRenderApp(t, Config{}, func(ctx context.Context, w io.Writer) error {
		rc := reqctx.MustFromContext(ctx)
		rc.SetStatus(http.StatusTeapot)
		rc.SetResponseHeader("X-Page", "teapot")
		io.WriteString(w, "short and stout")
		return nil
	})

	rr := httptest.NewRecorder()
	app.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/teapot", nil))

	if rr.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusTeapot)
	}
	if got := rr.Header().Get("X-Page"); got != "teapot" {
		t.Fatalf("X-Page = %q, want %q", got, "teapot")
	}
}

func TestRenderHandler_HTTPErrorStatusAndFallbackBody(t *testing.T) {
	app := newRenderApp(t, Config{}, func(ctx context.Context, w io.Writer) error {
		return &ssr.HTTPError{Status: http.StatusNotFound}
	})

	rr := httptest.NewRecorder()
	app.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "Not Found" {
		t.Fatalf("body = %q, want %q", got, "Not Found")
	}
}

func TestRenderHandler_HTTPErrorCustomBody(t *testing.T) {
	app := newRenderApp(t, Config{}, func(ctx context.Context, w io.Writer) error {
		return &ssr.HTTPError{Status: http.StatusForbidden, Body: "members only"}
	})

	rr := httptest.NewRecorder()
	app.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/private", nil))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "members only" {
		t.Fatalf("body = %q, want %q", got, "members only")
	}
}

func TestRenderHandler_RenderFailureLogsOnce(t *testing.T) {
	counter := newLogCounter()
	app := newRenderApp(t, Config{Logger: slog.New(counter)}, func(ctx context.Context, w io.Writer) error {
		return fmt.Errorf("database unreachable")
	})

	rr := httptest.NewRecorder()
	app.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/page", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(rr.Body.String(), "database unreachable") {
		t.Fatalf("body = %q, want render error text", rr.Body.String())
	}
	if got := counter.count(slog.LevelError); got != 1 {
		t.Fatalf("error log records = %d, want exactly 1", got)
	}
}

func TestRenderHandler_PanicDetailGatedByDevMode(t *testing.T) {
	render := func(ctx context.Context, w io.Writer) error {
		panic("tree exploded")
	}

	app := newRenderApp(t, Config{}, render)
	rr := httptest.NewRecorder()
	app.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/page", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("release status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if strings.Contains(rr.Body.String(), "tree exploded") {
		t.Fatalf("release body leaked panic detail: %q", rr.Body.String())
	}

	devApp := newRenderApp(t, Config{DevMode: true}, render)
	rr = httptest.NewRecorder()
	devApp.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/page", nil))
	if !strings.Contains(rr.Body.String(), "tree exploded") {
		t.Fatalf("dev body = %q, want panic detail", rr.Body.String())
	}
}

func TestRenderHandler_IncrementalCacheControl(t *testing.T) {
	app := newRenderApp(t, Config{
		Incremental: &isr.Config{MaxAge: time.Minute, StaleWhileRevalidate: 30 * time.Second},
	}, func(ctx context.Context, w io.Writer) error {
		io.WriteString(w, "<html>cached</html>")
		return nil
	})

	rr := httptest.NewRecorder()
	app.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/page", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("Cache-Control"); got != "max-age=60, stale-while-revalidate=30" {
		t.Fatalf("Cache-Control = %q", got)
	}
}

func TestRenderHandler_ContextProvidersReachTree(t *testing.T) {
	type theme struct{ Name string }

	captured := &testTree{render: func(ctx context.Context, w io.Writer) error { return nil }}
	cfg := Config{
		Functions: NewRegistry(),
		ContextProviders: []ContextProvider{
			func() any { return &theme{Name: "dark"} },
			func() any { return 42 },
		},
	}
	app := New(cfg, func() ssr.Tree { return captured })
	t.Cleanup(app.Close)

	rr := httptest.NewRecorder()
	app.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/page", nil))

	seen := captured.contexts
	if len(seen) != 2 {
		t.Fatalf("tree received %d context values, want 2", len(seen))
	}
	if th, ok := seen[0].(*theme); !ok || th.Name != "dark" {
		t.Fatalf("first context value = %#v, want *theme{dark}", seen[0])
	}
	if seen[1] != 42 {
		t.Fatalf("second context value = %#v, want 42", seen[1])
	}
}

func TestHeadlessApp_PageRequestsNotFound(t *testing.T) {
	app := newStaticApp(t, Config{})

	rr := httptest.NewRecorder()
	app.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/any/page", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestRenderHandler_NonGETNotFound(t *testing.T) {
	app := newRenderApp(t, Config{}, func(ctx context.Context, w io.Writer) error {
		io.WriteString(w, "page")
		return nil
	})

	rr := httptest.NewRecorder()
	app.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/any/page", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestMiddleware_WrapsAllRoutes(t *testing.T) {
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-MW", "yes")
			next.ServeHTTP(w, r)
		})
	}
	app := newRenderApp(t, Config{Middleware: []func(http.Handler) http.Handler{mw}}, func(ctx context.Context, w io.Writer) error {
		return nil
	})

	rr := httptest.NewRecorder()
	app.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/page", nil))
	if got := rr.Header().Get("X-MW"); got != "yes" {
		t.Fatalf("X-MW = %q, want %q (middleware not applied)", got, "yes")
	}
}
