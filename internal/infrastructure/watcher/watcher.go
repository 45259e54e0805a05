package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/storage/localfs"
)

const DefaultDebounce = 750 * time.Millisecond

// Lister returns the sorted candidate names currently in the inbox.
type Lister interface {
	Names(ctx context.Context) ([]string, error)
}

type TriggerFunc func(ctx context.Context) error

// Watcher runs the trigger once the inbox settles on a new set of names.
type Watcher struct {
	dir      string
	lister   Lister
	trigger  TriggerFunc
	debounce time.Duration
	logger   *slog.Logger

	last string
}

func New(dir string, lister Lister, trigger TriggerFunc, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, lister: lister, trigger: trigger, debounce: debounce, logger: logger}
}

// Signature is the order-independent fingerprint of a name set.
func Signature(names []string) string {
	return strings.Join(names, "\n")
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("inbox_watcher_started", "dir", w.dir, "debounce", w.debounce.String())

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(w.debounce)
		fire = timer.C
	}
	// Pick up files that arrived while the server was down.
	schedule()

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("inbox_watcher_stopped")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if Relevant(ev) {
				schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox_watcher_error", "error", err)
		case <-fire:
			fire = nil
			w.Settle(ctx)
		}
	}
}

// Settle compares the current name set with the last triggered one and
// runs the trigger when it changed and is non-empty.
func (w *Watcher) Settle(ctx context.Context) bool {
	names, err := w.lister.Names(ctx)
	if err != nil {
		w.logger.Warn("inbox_list_failed", "error", err)
		return false
	}
	sig := Signature(names)
	if sig == "" {
		w.last = ""
		return false
	}
	if sig == w.last {
		return false
	}
	w.last = sig

	w.logger.Info("inbox_changed", "files", len(names))
	if err := w.trigger(ctx); err != nil {
		if errors.Is(err, domain.ErrBatchInProgress) {
			// Retry on the next event.
			w.last = ""
			w.logger.Info("inbox_trigger_skipped", "reason", "batch in progress")
			return true
		}
		w.logger.Error("inbox_trigger_failed", "error", err)
	}
	return true
}

// Relevant filters fs events down to candidate documents.
func Relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return localfs.IsCandidate(filepath.Base(ev.Name))
}
