package weft

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/weftworks/weft/pkg/dispatch"
	"github.com/weftworks/weft/pkg/reqctx"
)

// =============================================================================
// Server Function Registry
// =============================================================================

// ServerFunction is one registered endpoint: an HTTP method, a route
// pattern, and a zero-argument factory that materializes the handler.
//
// The factory is never invoked at registration time; it runs once while the
// routing table is built.
type ServerFunction struct {
	method  string
	path    string
	factory func() ServerFunc
}

// NewServerFunction creates a server function record.
func NewServerFunction(method, path string, factory func() ServerFunc) ServerFunction {
	return ServerFunction{method: strings.ToUpper(method), path: path, factory: factory}
}

// Method returns the HTTP method the server function expects.
func (f ServerFunction) Method() string { return f.method }

// Path returns the route pattern of the server function.
func (f ServerFunction) Path() string { return f.path }

// Registry is an append-only collection of server functions, populated
// during process startup and frozen when the first router is built from it.
type Registry struct {
	mu     sync.Mutex
	funcs  []ServerFunction
	frozen bool
}

// NewRegistry creates an empty registry. Most applications use the
// package-level Register and the default registry instead.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends fn to the registry. Registering after a router has been
// built from the registry is a startup-ordering bug and panics.
func (reg *Registry) Register(fn ServerFunction) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.frozen {
		panic(fmt.Sprintf("weft: server function %s %s registered after router construction", fn.method, fn.path))
	}
	reg.funcs = append(reg.funcs, fn)
}

// Collect returns every registered record in registration order and freezes
// the registry against further registration.
func (reg *Registry) Collect() []ServerFunction {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.frozen = true
	return append([]ServerFunction(nil), reg.funcs...)
}

// defaultRegistry collects server functions registered via the package-level
// Register, typically from init functions across the program.
var defaultRegistry = NewRegistry()

// Register adds a server function to the default registry.
func Register(fn ServerFunction) {
	defaultRegistry.Register(fn)
}

// =============================================================================
// Router Construction
// =============================================================================

// registerServerFunctions mounts every collected server function onto r,
// collapsing duplicate (method, path) keys to the first-registered entry.
func (a *App) registerServerFunctions(r chi.Router) {
	seen := make(map[string]bool)
	for _, fn := range a.functions.Collect() {
		key := fn.method + " " + fn.path
		if seen[key] {
			a.logger.Warn("duplicate server function registration ignored", "method", fn.method, "path", fn.path)
			continue
		}
		seen[key] = true
		a.logger.Info("registering server function", "method", fn.method, "path", fn.path)
		r.Method(fn.method, fn.path, a.serverFunctionHandler(fn.factory()))
	}
}

// serverFunctionHandler wraps fn with the pinned-dispatch protocol: the
// handler runs on one worker inside a request-context scope, accumulated
// headers are merged back, the plain-form redirect heuristic is applied, and
// abnormal termination becomes a 500 instead of taking down the process.
func (a *App) serverFunctionHandler(fn ServerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := reqctx.PartsFromRequest(r)
		referer := r.Header.Get("Referer")
		acceptsHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

		result, err := a.dispatcher.RunPinned(r.Context(), func() (any, error) {
			rc := reqctx.New(parts)
			req := r.WithContext(reqctx.NewContext(r.Context(), rc))

			resp := fn(rc, req)
			if resp == nil {
				resp = NewResponse(http.StatusOK)
			}

			// Merge-back: headers accumulated on the context are appended
			// after the handler's own, never overwriting them.
			if taken := rc.TakeResponseHeaders(); taken != nil {
				h := resp.ensureHeader()
				for key, values := range taken {
					for _, v := range values {
						h.Add(key, v)
					}
				}
			}

			// Plain HTML form submissions land back on the referring page
			// unless the handler already chose a destination.
			if acceptsHTML && referer != "" && resp.ensureHeader().Get("Location") == "" {
				resp.Status = http.StatusFound
				resp.Header.Set("Location", referer)
			}

			return resp, nil
		})

		if err != nil {
			var workerErr *dispatch.WorkerError
			if errors.As(err, &workerErr) {
				a.logger.Error("server function panicked",
					"method", r.Method, "path", r.URL.Path, "panic", workerErr.Value)
				body := "Internal Server Error"
				if a.config.DevMode {
					body = fmt.Sprintf("server function panicked: %v", workerErr.Value)
				}
				http.Error(w, body, http.StatusInternalServerError)
				return
			}
			// The client went away while we were waiting on the worker.
			return
		}

		result.(*Response).write(w)
	})
}
