package weft

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/weftworks/weft/internal/dev"
	"github.com/weftworks/weft/pkg/dispatch"
	"github.com/weftworks/weft/pkg/isr"
	"github.com/weftworks/weft/pkg/reqctx"
	"github.com/weftworks/weft/pkg/ssr"
)

// =============================================================================
// App Type
// =============================================================================

// App is the gateway entry point. It wraps the execution pool, the renderer
// pool, server-function routing, and static asset serving into a single
// http.Handler.
//
// Create an App with weft.New():
//
//	app := weft.New(weft.Config{DevMode: os.Getenv("ENV") != "production"}, buildRootTree)
//	http.ListenAndServe(":8080", app)
type App struct {
	config     Config
	logger     *slog.Logger
	functions  *Registry
	dispatcher *dispatch.Pool
	renderers  *ssr.Pool
	makeTree   TreeFactory
	router     chi.Router
	reload     *dev.ReloadHub
}

// New creates an App serving the given root tree factory. The routing table
// is built once, here; the server-function registry freezes at this point.
func New(cfg Config, root TreeFactory) *App {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	functions := cfg.Functions
	if functions == nil {
		functions = defaultRegistry
	}

	dispatcher := dispatch.New(cfg.Workers, logger)

	app := &App{
		config:     cfg,
		logger:     logger,
		functions:  functions,
		dispatcher: dispatcher,
		renderers:  ssr.NewPool(dispatcher, isr.NewCache(cfg.Incremental), logger),
		makeTree:   root,
	}
	app.buildRouter()
	return app
}

// Headless creates an App with no root tree: server functions and static
// assets are served, page requests 404. Intended for API-only deployments
// and tests.
func Headless(cfg Config) *App {
	return New(cfg, nil)
}

func (a *App) buildRouter() {
	r := chi.NewRouter()
	for _, mw := range a.config.Middleware {
		r.Use(mw)
	}

	a.registerServerFunctions(r)
	a.serveStaticAssets(r)

	if a.config.DevMode {
		a.reload = dev.NewReloadHub(a.logger)
		r.Get("/_weft/reload", a.reload.ServeWS)
	}

	r.NotFound(a.renderHandler)
	a.router = r
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Handler returns the App as an http.Handler, for mounting under an outer
// router or middleware stack.
func (a *App) Handler() http.Handler { return a }

// Dispatcher returns the pinned execution pool. Most apps won't need this.
func (a *App) Dispatcher() *dispatch.Pool { return a.dispatcher }

// Reload returns the dev-mode reload hub, or nil outside DevMode.
func (a *App) Reload() *dev.ReloadHub { return a.reload }

// Config returns the app configuration.
func (a *App) Config() Config { return a.config }

// Close releases the worker pool. In-flight pinned work drains first.
func (a *App) Close() {
	a.dispatcher.Close()
	if a.reload != nil {
		a.reload.Close()
	}
}

// =============================================================================
// Render Path
// =============================================================================

// renderHandler is the routing fallback: any unmatched GET renders a page.
func (a *App) renderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || a.makeTree == nil {
		http.NotFound(w, r)
		return
	}

	// Render requests carry no meaningful body; only the head travels on.
	parts := reqctx.PartsFromRequest(r)

	makeTree := a.makeTree
	providers := a.config.ContextProviders
	outcome, err := a.renderers.RenderTo(r.Context(), parts, func() ssr.Tree {
		tree := makeTree()
		for _, provide := range providers {
			tree.ProvideContext(provide())
		}
		return tree
	})
	if err != nil {
		a.writeRenderError(w, r, err)
		return
	}

	defer outcome.Body.Close()

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	outcome.Freshness.WriteHeaders(h)
	for key, values := range outcome.Header {
		h[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	w.WriteHeader(outcome.Status)
	streamBody(w, outcome.Body)
}

// writeRenderError translates a render failure into HTTP semantics.
func (a *App) writeRenderError(w http.ResponseWriter, r *http.Request, err error) {
	var httpErr *ssr.HTTPError
	if errors.As(err, &httpErr) {
		body := httpErr.Body
		if body == "" {
			body = http.StatusText(httpErr.Status)
		}
		if body == "" {
			body = "an unknown error occurred"
		}
		http.Error(w, body, httpErr.Status)
		return
	}

	var incErr *ssr.IncrementalError
	if errors.As(err, &incErr) {
		a.logger.Error("failed to render page", "path", r.URL.Path, "error", err)
		http.Error(w, incErr.Error(), http.StatusInternalServerError)
		return
	}

	var workerErr *dispatch.WorkerError
	if errors.As(err, &workerErr) {
		a.logger.Error("render panicked", "path", r.URL.Path, "panic", workerErr.Value)
		body := "Internal Server Error"
		if a.config.DevMode {
			body = workerErr.Error()
		}
		http.Error(w, body, http.StatusInternalServerError)
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Client gave up while we were waiting on the renderer.
		return
	}

	a.logger.Error("render failed", "path", r.URL.Path, "error", err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

// streamBody copies the rendered stream to the client, flushing per chunk so
// markup reaches the browser while the tree is still rendering.
func streamBody(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}
