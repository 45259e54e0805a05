package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	RouteReviewRequired   = "mail_room.review_required"
	RouteDuplicateSkipped = "mail_room.duplicate_skipped"
	RouteQuarantined      = "mail_room.quarantined"
)

// IsSentinelRoute reports whether a route targets a holding area instead of an office.
func IsSentinelRoute(route string) bool {
	return strings.HasPrefix(route, "mail_room.")
}

type Mode string

const (
	ModeDefault Mode = "DEFAULT"
	ModeKB      Mode = "KB"
)

func ParseMode(raw string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(ModeDefault):
		return ModeDefault, nil
	case string(ModeKB):
		return ModeKB, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, raw)
	}
}

type RiskFlag string

const (
	RiskExecutable       RiskFlag = "executable"
	RiskLargeArchive     RiskFlag = "large_archive"
	RiskUnclearOwnership RiskFlag = "unclear_ownership"
	RiskMissingSummary   RiskFlag = "missing_summary"
	RiskDuplicate        RiskFlag = "duplicate"
)

// RiskFlags is an ordered set.
type RiskFlags []RiskFlag

func (f RiskFlags) Has(flag RiskFlag) bool {
	for _, existing := range f {
		if existing == flag {
			return true
		}
	}
	return false
}

func (f *RiskFlags) Add(flag RiskFlag) {
	if f.Has(flag) {
		return
	}
	*f = append(*f, flag)
}

type EntityCandidate struct {
	Entity     string  `json:"entity"`
	Confidence float64 `json:"confidence"`
}

type AIClassification struct {
	DocType    string `json:"doc_type"`
	Department string `json:"department"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

type Decision struct {
	Route          string   `json:"route"`
	AutoRoute      bool     `json:"auto_route"`
	RuleID         string   `json:"rule_id"`
	RuleReason     string   `json:"rule_reason,omitempty"`
	Reasons        []string `json:"reasons"`
	Entity         string   `json:"entity,omitempty"`
	Function       string   `json:"function,omitempty"`
	DocType        string   `json:"doc_type,omitempty"`
	Confidence     int      `json:"confidence"`
	LegalBlocked   bool     `json:"legal_blocked,omitempty"`
	ConflictReason string   `json:"conflict_reason,omitempty"`
}

type Item struct {
	ID            string            `json:"id"`
	Filename      string            `json:"filename"`
	SourcePath    string            `json:"source_path"`
	SidecarPath   string            `json:"sidecar_path,omitempty"`
	ModifiedAt    time.Time         `json:"modified_at"`
	Size          int64             `json:"size"`
	Snippet       string            `json:"-"`
	Entities      []EntityCandidate `json:"detected_entities,omitempty"`
	AI            *AIClassification `json:"ai_classification,omitempty"`
	RiskFlags     RiskFlags         `json:"risk_flags,omitempty"`
	State         State             `json:"state"`
	History       []State           `json:"state_history"`
	Decision      *Decision         `json:"decision,omitempty"`
	Summary       string            `json:"summary,omitempty"`
	Hash          string            `json:"hash,omitempty"`
	DuplicateOf   *SeenEntry        `json:"duplicate_of,omitempty"`
	ReasonCode    string            `json:"reason_code,omitempty"`
	Destination   string            `json:"destination,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// NewItemID derives a stable id from the filename and modification time.
func NewItemID(filename string, modifiedAt time.Time) string {
	sum := sha256.Sum256([]byte(filename + modifiedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}

func NewItem(path string, modifiedAt time.Time, size int64) *Item {
	name := filepath.Base(path)
	return &Item{
		ID:         NewItemID(name, modifiedAt),
		Filename:   name,
		SourcePath: path,
		ModifiedAt: modifiedAt,
		Size:       size,
		State:      StateDetected,
		History:    []State{StateDetected},
	}
}

// Advance moves the item one lifecycle step forward.
func (it *Item) Advance(to State) error {
	if err := Transition(it.State, to); err != nil {
		return err
	}
	for _, seen := range it.History {
		if seen == to {
			return fmt.Errorf("%w: %s revisited", ErrInvalidState, to)
		}
	}
	it.State = to
	it.History = append(it.History, to)
	return nil
}

// AttachDecision sets the routing decision once.
func (it *Item) AttachDecision(d Decision) error {
	if it.Decision != nil {
		return fmt.Errorf("%w: decision already attached to %s", ErrInvariant, it.Filename)
	}
	it.Decision = &d
	return nil
}

func (it *Item) Ext() string {
	return strings.ToLower(filepath.Ext(it.Filename))
}

// CheckReviewSummary enforces that held items explain themselves.
func (it *Item) CheckReviewSummary() error {
	if it.State != StateReviewRequired && it.State != StateKBReviewRequired {
		return nil
	}
	if strings.TrimSpace(it.Summary) == "" {
		return fmt.Errorf("%w: %s item %s has no summary", ErrInvariant, it.State, it.Filename)
	}
	return nil
}
