package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/fsnotify/fsnotify"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

type fakeLister struct {
	names []string
}

func (f *fakeLister) Names(context.Context) ([]string, error) {
	return f.names, nil
}

func newTestWatcher(lister Lister, trigger TriggerFunc) *Watcher {
	return New("/unused", lister, trigger, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSettleTriggersOnlyOnNewNameSet(t *testing.T) {
	lister := &fakeLister{}
	calls := 0
	w := newTestWatcher(lister, func(context.Context) error { calls++; return nil })
	ctx := context.Background()

	if w.Settle(ctx) {
		t.Fatalf("empty inbox must not trigger")
	}
	lister.names = []string{"a.pdf"}
	if !w.Settle(ctx) || calls != 1 {
		t.Fatalf("first non-empty set must trigger, calls=%d", calls)
	}
	if w.Settle(ctx) || calls != 1 {
		t.Fatalf("unchanged set must not retrigger, calls=%d", calls)
	}
	lister.names = []string{"a.pdf", "b.pdf"}
	if !w.Settle(ctx) || calls != 2 {
		t.Fatalf("changed set must trigger, calls=%d", calls)
	}

	lister.names = nil
	w.Settle(ctx)
	lister.names = []string{"a.pdf"}
	if !w.Settle(ctx) || calls != 3 {
		t.Fatalf("set seen before an empty inbox must trigger again, calls=%d", calls)
	}
}

func TestSettleRetriesAfterBatchConflict(t *testing.T) {
	lister := &fakeLister{names: []string{"a.pdf"}}
	calls := 0
	w := newTestWatcher(lister, func(context.Context) error {
		calls++
		if calls == 1 {
			return domain.WrapError(domain.ErrBatchInProgress, "run", errors.New("busy"))
		}
		return nil
	})
	w.Settle(context.Background())
	w.Settle(context.Background())
	if calls != 2 {
		t.Fatalf("conflicted trigger must be retried, calls=%d", calls)
	}
}

func TestRelevantFiltersEvents(t *testing.T) {
	cases := []struct {
		ev   fsnotify.Event
		want bool
	}{
		{fsnotify.Event{Name: "/in/a.pdf", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/in/a.pdf", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "/in/a.pdf", Op: fsnotify.Remove}, false},
		{fsnotify.Event{Name: "/in/a.pdf.navi.json", Op: fsnotify.Create}, false},
		{fsnotify.Event{Name: "/in/.hidden", Op: fsnotify.Create}, false},
		{fsnotify.Event{Name: "/in/a.pdf.tmp", Op: fsnotify.Write}, false},
	}
	for _, tc := range cases {
		if got := Relevant(tc.ev); got != tc.want {
			t.Fatalf("%v: got %v, want %v", tc.ev, got, tc.want)
		}
	}
}

func TestSignatureIsJoinOfSortedNames(t *testing.T) {
	if Signature(nil) != "" {
		t.Fatalf("empty signature expected")
	}
	if Signature([]string{"a", "b"}) == Signature([]string{"a"}) {
		t.Fatalf("signatures must differ")
	}
}
