package localfs

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

// SidecarStore reads and writes <file>.navi.json next to a document.
type SidecarStore struct{}

func NewSidecarStore() *SidecarStore {
	return &SidecarStore{}
}

func SidecarPath(filePath string) string {
	return filePath + domain.SidecarSuffix
}

// Read returns nil without error when the document has no sidecar yet.
func (s *SidecarStore) Read(_ context.Context, filePath string) (*domain.Sidecar, error) {
	var sc domain.Sidecar
	err := ReadJSON(SidecarPath(filePath), &sc)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sidecar: %w", err)
	}
	return &sc, nil
}

func (s *SidecarStore) Write(_ context.Context, filePath string, sc domain.Sidecar) error {
	if err := WriteJSONAtomic(SidecarPath(filePath), sc); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}
