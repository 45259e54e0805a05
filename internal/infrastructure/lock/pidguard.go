package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

// PIDGuard keeps a single server instance per navi root and role.
type PIDGuard struct {
	path string
	fl   *flock.Flock
	once sync.Once
}

func PIDPath(naviRoot, role string) string {
	return filepath.Join(naviRoot, "run", role+".pid")
}

// AcquirePID fails with ErrInstanceRunning while a live process holds the
// guard. Files left behind by dead processes are taken over.
func AcquirePID(path string) (*PIDGuard, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	fl := flock.New(path + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock pid file: %w", err)
	}
	if !ok {
		pid, _ := ReadPID(path)
		return nil, domain.WrapError(domain.ErrInstanceRunning, "acquire pid guard", fmt.Errorf("pid %d holds %s", pid, path))
	}

	if pid, err := ReadPID(path); err == nil && pid != os.Getpid() && processAlive(pid) {
		_ = fl.Unlock()
		return nil, domain.WrapError(domain.ErrInstanceRunning, "acquire pid guard", fmt.Errorf("pid %d is alive", pid))
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return &PIDGuard{path: path, fl: fl}, nil
}

func (g *PIDGuard) Path() string {
	return g.path
}

// Release removes the pid file and drops the advisory lock. The .lock file
// stays so later guards contend on the same inode. Safe to call more than
// once.
func (g *PIDGuard) Release() error {
	var err error
	g.once.Do(func() {
		if rmErr := os.Remove(g.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = rmErr
		}
		if unlockErr := g.fl.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
	})
	return err
}

func ReadPID(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file: %w", err)
	}
	return pid, nil
}
