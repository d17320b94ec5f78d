// Package weft is a request-dispatch gateway between an HTTP router and
// per-request render or server-function handlers whose state must stay on a
// single thread for its whole lifetime.
//
// An App routes inbound requests three ways: registered server functions run
// pinned to one worker of a fixed execution pool, page requests go through
// the renderer pool and stream markup back, and public assets are served
// with content-fingerprint-aware cache headers.
//
//	weft.Register(weft.NewServerFunction(http.MethodPost, "/api/echo", func() weft.ServerFunc {
//	    return func(rc *weft.RequestContext, r *http.Request) *weft.Response {
//	        rc.SetCookie(&http.Cookie{Name: "seen", Value: "1"})
//	        return weft.Text(http.StatusOK, "ok")
//	    }
//	}))
//
//	app := weft.New(weft.Config{}, buildRootTree)
//	http.ListenAndServe(":8080", app)
package weft

import (
	"github.com/weftworks/weft/pkg/reqctx"
	"github.com/weftworks/weft/pkg/ssr"
)

// RequestContext is the per-request value carrying the inbound request head
// and the outbound header accumulator. See pkg/reqctx.
type RequestContext = reqctx.RequestContext

// Tree is a per-request render tree. See pkg/ssr.
type Tree = ssr.Tree

// TreeFactory produces a fresh render tree for one request.
type TreeFactory = ssr.TreeFactory

// RequestContextFrom returns the RequestContext carried by ctx, if any.
var RequestContextFrom = reqctx.FromContext

// MustRequestContext returns the RequestContext carried by ctx and panics
// when called outside a request scope.
var MustRequestContext = reqctx.MustFromContext
