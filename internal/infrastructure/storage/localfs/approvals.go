package localfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

const approvalAuditFile = "audit.log"

// ApprovalStore keeps approval records under <root>/approvals and moves
// reviewed documents into their enforcement buckets.
type ApprovalStore struct {
	storage  *Storage
	inboxDir string
	tree     *Tree
	mu       sync.Mutex
}

func NewApprovalStore(storage *Storage, inboxDir string) *ApprovalStore {
	return &ApprovalStore{storage: storage, inboxDir: inboxDir, tree: NewTree(storage, inboxDir)}
}

func (s *ApprovalStore) SaveApproval(_ context.Context, day time.Time, name string, req domain.ApprovalRequest) (string, error) {
	path := s.storage.Path("approvals", day.UTC().Format("2006-01-02"), name)
	if err := WriteJSONAtomic(path, req); err != nil {
		return "", fmt.Errorf("write approval: %w", err)
	}
	return path, nil
}

func (s *ApprovalStore) AppendAudit(_ context.Context, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.storage.Path("approvals", approvalAuditFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create approvals dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open approval audit: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append approval audit: %w", err)
	}
	return f.Sync()
}

func (s *ApprovalStore) ReadAudit(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.storage.Path("approvals", approvalAuditFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.WrapError(domain.ErrNotFound, "read approval audit", err)
	}
	if err != nil {
		return nil, fmt.Errorf("read approval audit: %w", err)
	}
	return data, nil
}

// Locate finds a reviewed document in the inbox or, failing that, in the
// newest review holding area that has it. Missing files yield "".
func (s *ApprovalStore) Locate(_ context.Context, filename string) (string, error) {
	candidates := []string{filepath.Join(s.inboxDir, filename)}

	holds, err := filepath.Glob(s.storage.Path("HOLDING", "review", "*"))
	if err != nil {
		return "", fmt.Errorf("scan review holding: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(holds)))
	for _, dir := range holds {
		candidates = append(candidates, filepath.Join(dir, filename))
	}

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", nil
}

// MoveToBucket moves src plus its sidecar into <bucket>/<dept>, never
// overwriting an existing file.
func (s *ApprovalStore) MoveToBucket(ctx context.Context, src, bucket, dept string) (string, error) {
	return s.tree.MoveInto(ctx, src, bucket+"/"+dept)
}
