package weft

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/weftworks/weft/pkg/ssr"
)

// testTree is a minimal render tree for tests.
type testTree struct {
	contexts []any
	render   func(ctx context.Context, w io.Writer) error
}

func (t *testTree) ProvideContext(v any) { t.contexts = append(t.contexts, v) }

func (t *testTree) Render(ctx context.Context, w io.Writer) error {
	if t.render == nil {
		return nil
	}
	return t.render(ctx, w)
}

func treeFactory(render func(ctx context.Context, w io.Writer) error) TreeFactory {
	return func() ssr.Tree { return &testTree{render: render} }
}

// logCounter counts log records by level.
type logCounter struct {
	mu     sync.Mutex
	counts map[slog.Level]int
}

func newLogCounter() *logCounter {
	return &logCounter{counts: make(map[slog.Level]int)}
}

func (h *logCounter) Enabled(context.Context, slog.Level) bool { return true }

func (h *logCounter) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.counts[r.Level]++
	h.mu.Unlock()
	return nil
}

func (h *logCounter) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *logCounter) WithGroup(string) slog.Handler { return h }

func (h *logCounter) count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[level]
}
