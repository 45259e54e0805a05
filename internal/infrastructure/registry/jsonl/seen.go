package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

const maxLineBytes = 1 << 20

// Registry is the append-only seen-files log, one JSON object per line.
type Registry struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Registry {
	return &Registry{path: path}
}

func (r *Registry) Path() string {
	return r.path
}

// Lookup scans the log and returns the first entry recorded for hash.
func (r *Registry) Lookup(ctx context.Context, hash string) (*domain.SeenEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open seen registry: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var entry domain.SeenEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			slog.Warn("seen_registry_bad_line", "path", r.path, "line", line, "error", err)
			continue
		}
		if entry.Hash == hash {
			return &entry, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan seen registry: %w", err)
	}
	return nil, nil
}

// Append writes one entry as a single line.
func (r *Registry) Append(_ context.Context, entry domain.SeenEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal seen entry: %w", err)
	}
	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open seen registry: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("append seen entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync seen registry: %w", err)
	}
	return f.Close()
}
