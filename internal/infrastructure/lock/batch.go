package lock

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

// Info is written into a held lock file for operators.
type Info struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	Holder     string    `json:"holder,omitempty"`
}

// BatchLock serializes batch runs inside the process and across processes
// sharing the same navi root.
type BatchLock struct {
	mu     sync.Mutex
	path   string
	holder string
	now    func() time.Time
}

func NewBatchLock(path, holder string) *BatchLock {
	return &BatchLock{path: path, holder: holder, now: time.Now}
}

func (l *BatchLock) Path() string {
	return l.path
}

// TryAcquire never waits. The returned release func is idempotent.
//
// The lock file is never unlinked: every process must contend on the same
// inode. Releasing clears the holder record and drops the advisory lock.
func (l *BatchLock) TryAcquire() (func(), error) {
	if !l.mu.TryLock() {
		return nil, domain.WrapError(domain.ErrBatchInProgress, "acquire batch lock", errors.New("held by this process"))
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	fl := flock.New(l.path)
	ok, err := fl.TryLock()
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("lock %s: %w", l.path, err)
	}
	if !ok {
		l.mu.Unlock()
		return nil, domain.WrapError(domain.ErrBatchInProgress, "acquire batch lock", describeHolder(l.path))
	}

	info := Info{PID: os.Getpid(), AcquiredAt: l.now().UTC(), Holder: l.holder}
	if raw, err := json.Marshal(info); err == nil {
		_ = os.WriteFile(l.path, raw, 0o644)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = os.Truncate(l.path, 0)
			_ = fl.Unlock()
			l.mu.Unlock()
		})
	}, nil
}

func describeHolder(path string) error {
	info, err := ReadInfo(path)
	if err != nil || info == nil {
		return errors.New("held by another process")
	}
	return fmt.Errorf("held by pid %d since %s", info.PID, info.AcquiredAt.Format(time.RFC3339))
}

// ReadInfo returns nil when the lock file is missing or carries no holder
// record.
func ReadInfo(path string) (*Info, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		// Lock files written by older tools carry a bare timestamp.
		return &Info{}, nil
	}
	return &info, nil
}

// Status describes a lock found on disk. Exists is true while a holder
// record is present or the advisory lock is taken.
type Status struct {
	Exists bool
	Held   bool
	Info   *Info
}

func InspectStale(path string) (Status, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Status{}, nil
	} else if err != nil {
		return Status{}, err
	}

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return Status{}, fmt.Errorf("probe %s: %w", path, err)
	}
	if ok {
		_ = fl.Unlock()
	}
	info, err := ReadInfo(path)
	if err != nil {
		return Status{}, err
	}
	return Status{Exists: info != nil || !ok, Held: !ok, Info: info}, nil
}

// ClearStale wipes a holder record nobody holds. With force the record is
// wiped even when a live holder exists; that holder keeps the advisory lock
// until it exits.
func ClearStale(path string, force bool) (bool, error) {
	st, err := InspectStale(path)
	if err != nil {
		return false, err
	}
	if !st.Exists {
		return false, nil
	}
	if st.Held && !force {
		return false, domain.WrapError(domain.ErrBatchInProgress, "clear batch lock", describeHolder(path))
	}
	if err := os.Truncate(path, 0); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("clear lock: %w", err)
	}
	return true, nil
}
