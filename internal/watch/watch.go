// Package watch keeps a workspace's index fresh during long-lived
// sessions: it observes MEMORY.md and memory/ via fsnotify, coalesces
// bursts of events through a debouncer, and invokes a resync callback
// once per quiet window. The callback is the single source of truth for
// what "up to date" means; this package only decides when to call it.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/evilpsycho42/mem-cli/internal/layout"
)

// DefaultDebounce is the quiet window after the last event before a
// resync fires. Editors commonly write a file several times per save.
const DefaultDebounce = 500 * time.Millisecond

// Options tunes a watch session.
type Options struct {
	Debounce time.Duration
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	return o
}

// Run watches ws until ctx is cancelled, calling onChange after each
// debounced burst of relevant events. Errors from onChange are logged
// and do not stop the watch; a watcher setup error does.
func Run(ctx context.Context, ws *layout.Workspace, opts Options, onChange func(context.Context) error) error {
	opts = opts.withDefaults()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(ws.Root); err != nil {
		return err
	}
	// memory/ and any nested directories; created-later directories are
	// added as their create events arrive.
	_ = filepath.WalkDir(ws.MemoryDirPath(), func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = w.Add(path)
		}
		return nil
	})

	d := newDebouncer(opts.Debounce)
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) && underMemoryDir(ws, ev.Name) {
				if info, serr := os.Stat(ev.Name); serr == nil && info.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if relevant(ws, ev.Name) {
				d.touch()
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch: watcher error", "err", werr)
		case <-d.c:
			if err := onChange(ctx); err != nil {
				slog.Warn("watch: resync failed", "err", err)
			}
		}
	}
}

// relevant reports whether an event path is part of the indexed set:
// MEMORY.md, or a .md file under memory/. Index artifacts and the lock
// file live in the same directory and must not retrigger the sync the
// watcher itself caused.
func relevant(ws *layout.Workspace, path string) bool {
	if path == ws.LongMemoryPath() {
		return true
	}
	if underMemoryDir(ws, path) {
		return strings.HasSuffix(strings.ToLower(path), ".md")
	}
	return false
}

func underMemoryDir(ws *layout.Workspace, path string) bool {
	rel, err := filepath.Rel(ws.MemoryDirPath(), path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
