// Package middleware provides optional observability middleware for weft
// applications.
//
// Both middlewares wrap plain http.Handler values, so they slot into
// Config.Middleware or any outer router:
//
//	app := weft.New(weft.Config{
//	    Middleware: []func(http.Handler) http.Handler{
//	        middleware.Prometheus(middleware.WithNamespace("myapp")),
//	        middleware.OpenTelemetry(),
//	    },
//	}, buildRootTree)
package middleware
