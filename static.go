package weft

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// =============================================================================
// Static Asset Serving
// =============================================================================

// publicDirEnv overrides the public asset root.
const publicDirEnv = "WEFT_PUBLIC_DIR"

// publicDir resolves the public asset root: explicit config, then the
// environment override, then a "public" directory next to the executable.
// Returns false when none resolves to a readable directory; a server with no
// static assets is valid.
func (a *App) publicDir() (string, bool) {
	candidates := make([]string, 0, 3)
	if a.config.Static.PublicDir != "" {
		candidates = append(candidates, a.config.Static.PublicDir)
	}
	if env := os.Getenv(publicDirEnv); env != "" {
		candidates = append(candidates, env)
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "public"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, true
		}
	}
	return "", false
}

// serveStaticAssets mounts one route per public asset onto r. The root's own
// index.html is excluded; the render fallback owns that path.
func (a *App) serveStaticAssets(r chi.Router) {
	root, ok := a.publicDir()
	if !ok {
		a.logger.Debug("no public asset directory; static serving skipped")
		return
	}
	a.serveDirCached(r, root, root)
}

// serveDirCached enumerates dir and registers a route per entry. In DevMode
// subdirectories are mounted as live pass-through file servers so files
// added later are still served; otherwise the tree is fully enumerated and
// the route set is immutable for the process lifetime.
func (a *App) serveDirCached(r chi.Router, root, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		a.logger.Warn("could not read public directory", "dir", dir, "error", err)
		return
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if dir == root && !entry.IsDir() && entry.Name() == "index.html" {
			continue
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		route := "/" + filepath.ToSlash(rel)

		if entry.IsDir() {
			if a.config.DevMode {
				r.Mount(route, http.StripPrefix(route, http.FileServer(http.Dir(path))))
			} else {
				a.serveDirCached(r, root, path)
			}
			continue
		}

		handler := a.serveFileHandler(path)
		if fileNameLooksImmutable(route) {
			handler = cacheForever(handler)
		}
		r.Get(route, handler)
		r.Head(route, handler)
	}
}

// serveFileHandler serves one file with the configured extra headers.
func (a *App) serveFileHandler(path string) http.HandlerFunc {
	headers := a.config.Static.Headers
	return func(w http.ResponseWriter, r *http.Request) {
		for key, value := range headers {
			w.Header().Set(key, value)
		}
		http.ServeFile(w, r, path)
	}
}

// cacheForever marks a response as immutable for one year. Only safe for
// content-fingerprinted filenames, which change whenever the bytes do.
func cacheForever(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		next(w, r)
	}
}

// fileNameLooksImmutable reports whether the filename carries a content
// fingerprint: a literal "-dxh" marker followed by at least one hexadecimal
// character running up to the extension separator. "app-dxhA1B2C3.js"
// qualifies; "app.js" and "app-dxh.js" do not.
func fileNameLooksImmutable(name string) bool {
	i := strings.LastIndex(name, "-dxh")
	if i < 0 {
		return false
	}

	hexLen := 0
	for _, c := range name[i+len("-dxh"):] {
		if c == '.' {
			break
		}
		if !isHexDigit(c) {
			return false
		}
		hexLen++
	}
	return hexLen > 0
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
