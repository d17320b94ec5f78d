package weft

import (
	"log/slog"
	"net/http"

	"github.com/weftworks/weft/pkg/isr"
)

// =============================================================================
// Configuration Types
// =============================================================================

// ContextProvider supplies one value that is inserted into every render tree
// before it renders. Providers run in registration order, once per request.
type ContextProvider func() any

// Config is the main application configuration.
type Config struct {
	// ContextProviders are applied, in order, to every freshly built render
	// tree before rendering begins.
	ContextProviders []ContextProvider

	// Incremental enables the incremental render cache. Nil disables it.
	Incremental *isr.Config

	// Static configures static asset serving.
	Static StaticConfig

	// Workers is the size of the pinned execution pool. Zero or less means
	// the available parallelism, with a minimum of one.
	Workers int

	// Functions is the server-function registry the router is built from.
	// If nil, the package-level default registry is used.
	Functions *Registry

	// Middleware wraps every route mounted by the app, outermost first.
	Middleware []func(http.Handler) http.Handler

	// DevMode switches static directory mounts to live pass-through serving,
	// exposes panic detail in 500 bodies, and enables the reload endpoint.
	// Never enable in production.
	DevMode bool

	// Logger is the structured logger for the application.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// StaticConfig configures static asset serving.
type StaticConfig struct {
	// PublicDir is the public asset root. When empty, the WEFT_PUBLIC_DIR
	// environment variable is consulted, then a "public" directory next to
	// the running executable. If none resolves to a readable directory,
	// static serving is skipped.
	PublicDir string

	// Headers are custom headers added to all static file responses.
	Headers map[string]string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{}
}
