package localfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

// IsCandidate reports whether an inbox entry name is a document to process.
// Hidden files, sidecars, meta files and in-flight temp files are ignored.
func IsCandidate(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	for _, suffix := range []string{domain.SidecarSuffix, domain.MetaSuffix, ".tmp", ".part", ".crdownload"} {
		if strings.HasSuffix(name, suffix) {
			return false
		}
	}
	return true
}

// Inbox lists regular candidate files in a single directory level.
type Inbox struct {
	dir string
}

func NewInbox(dir string) *Inbox {
	return &Inbox{dir: dir}
}

func (i *Inbox) Dir() string {
	return i.dir
}

// List returns candidates sorted by name. A missing inbox is empty.
func (i *Inbox) List(_ context.Context) ([]domain.InboxFile, error) {
	entries, err := os.ReadDir(i.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	out := make([]domain.InboxFile, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsCandidate(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, domain.InboxFile{
			Path:       filepath.Join(i.dir, e.Name()),
			ModifiedAt: info.ModTime(),
			Size:       info.Size(),
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Path < out[b].Path })
	return out, nil
}

// Names returns the sorted candidate names.
func (i *Inbox) Names(ctx context.Context) ([]string, error) {
	files, err := i.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, filepath.Base(f.Path))
	}
	return names, nil
}
