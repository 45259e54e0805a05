package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

var errFound = errors.New("found")

// Tree locates and relocates documents anywhere under the navi root.
type Tree struct {
	storage  *Storage
	inboxDir string
}

func NewTree(storage *Storage, inboxDir string) *Tree {
	return &Tree{storage: storage, inboxDir: inboxDir}
}

// Find returns the inbox copy of filename when present, otherwise the first
// match in a lexical walk of the root. Missing files yield "".
func (t *Tree) Find(ctx context.Context, filename string) (string, error) {
	if filename == "" || filepath.Base(filename) != filename {
		return "", nil
	}
	if info, err := os.Stat(filepath.Join(t.inboxDir, filename)); err == nil && info.Mode().IsRegular() {
		return filepath.Join(t.inboxDir, filename), nil
	}

	var found string
	err := filepath.WalkDir(t.storage.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != t.storage.Root() && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && d.Name() == filename {
			found = path
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return "", fmt.Errorf("search navi root: %w", err)
	}
	return found, nil
}

// MoveInto moves src with its sidecar and meta into dirRel, never
// overwriting an existing file.
func (t *Tree) MoveInto(_ context.Context, src, dirRel string) (string, error) {
	dir, err := t.resolve(dirRel)
	if err != nil {
		return "", err
	}
	dest := UniquePath(dir, filepath.Base(src))
	if err := MoveFile(src, dest); err != nil {
		return "", err
	}
	for _, suffix := range []string{domain.SidecarSuffix, domain.MetaSuffix} {
		if _, err := os.Stat(src + suffix); err != nil {
			continue
		}
		if err := MoveFile(src+suffix, dest+suffix); err != nil {
			return dest, fmt.Errorf("move %s: %w", suffix, err)
		}
	}
	return dest, nil
}

// CopyInto copies src into dirRel unless a file of that name already exists.
func (t *Tree) CopyInto(_ context.Context, src, dirRel string) (string, bool, error) {
	dir, err := t.resolve(dirRel)
	if err != nil {
		return "", false, err
	}
	dest := filepath.Join(dir, filepath.Base(src))
	if _, err := os.Stat(dest); err == nil {
		return dest, false, nil
	}
	if err := CopyFile(src, dest); err != nil {
		return "", false, err
	}
	return dest, true, nil
}

func (t *Tree) resolve(dirRel string) (string, error) {
	dir := filepath.Clean(t.storage.Path(filepath.FromSlash(dirRel)))
	root := t.storage.Root()
	if dir != root && !strings.HasPrefix(dir, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes the navi root", domain.ErrInvalidInput, dirRel)
	}
	return dir, nil
}

// Files lists regular documents below the given root-relative directories,
// skipping sidecars, meta files and hidden entries. Missing directories are
// ignored.
func (t *Tree) Files(ctx context.Context, dirRels ...string) ([]string, error) {
	var out []string
	for _, rel := range dirRels {
		dir, err := t.resolve(rel)
		if err != nil {
			return nil, err
		}
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if path != dir && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() && IsCandidate(d.Name()) {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", rel, err)
		}
	}
	return out, nil
}
