package domain

import (
	"sort"
	"time"
)

type SeenEntry struct {
	Hash      string    `json:"hash"`
	Path      string    `json:"path"`
	Filename  string    `json:"filename"`
	FirstSeen time.Time `json:"first_seen"`
}

type BatchCounts struct {
	Total          int            `json:"total"`
	AutoRouted     map[string]int `json:"auto_routed"`
	ReviewRequired int            `json:"review_required"`
	KBReview       int            `json:"kb_review_required"`
	Quarantined    int            `json:"quarantined"`
	Duplicates     int            `json:"duplicates"`
	Errors         int            `json:"errors"`
}

type Batch struct {
	ID           string      `json:"batch_id"`
	Mode         Mode        `json:"mode"`
	StartedAt    time.Time   `json:"started_at"`
	DurationMS   int64       `json:"duration_ms"`
	Items        []*Item     `json:"items"`
	Counts       BatchCounts `json:"counts"`
	BatchLog     *string     `json:"batch_log"`
	EmergencyLog string      `json:"emergency_log,omitempty"`
}

// ItemDetail is the per-item line of a batch audit record.
type ItemDetail struct {
	Filename    string     `json:"filename"`
	State       State      `json:"state"`
	Route       string     `json:"route,omitempty"`
	RuleID      string     `json:"rule_id,omitempty"`
	Entity      string     `json:"entity,omitempty"`
	Confidence  int        `json:"confidence"`
	RiskFlags   []RiskFlag `json:"risk_flags,omitempty"`
	Action      string     `json:"action"`
	Destination string     `json:"destination,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type BatchStats struct {
	BatchID   string       `json:"batch_id"`
	Mode      Mode         `json:"mode"`
	Timestamp time.Time    `json:"timestamp"`
	Counts    BatchCounts  `json:"counts"`
	Details   []ItemDetail `json:"details"`
}

// AuditOutcome is the result of persisting a batch record. Exactly one of
// LogPath or EmergencyPath is set when the record reached disk.
type AuditOutcome struct {
	LogPath       string
	Degraded      bool
	EmergencyPath string
	Err           error
}

func NewBatch(id string, mode Mode, startedAt time.Time) *Batch {
	return &Batch{
		ID:        id,
		Mode:      mode,
		StartedAt: startedAt,
		Items:     []*Item{},
		Counts:    BatchCounts{AutoRouted: map[string]int{}},
	}
}

// Tally recomputes counts from the item states.
func (b *Batch) Tally() {
	counts := BatchCounts{AutoRouted: map[string]int{}, Total: len(b.Items)}
	for _, it := range b.Items {
		if it.DuplicateOf != nil {
			counts.Duplicates++
		}
		if it.Error != "" {
			counts.Errors++
			continue
		}
		switch it.State {
		case StateMoved:
			office := "unknown"
			if it.Decision != nil && it.Decision.Entity != "" {
				office = it.Decision.Entity
			}
			counts.AutoRouted[office]++
		case StateReviewRequired:
			counts.ReviewRequired++
		case StateKBReviewRequired:
			counts.KBReview++
		case StateQuarantined:
			counts.Quarantined++
		}
	}
	b.Counts = counts
}

func (b *Batch) Stats(now time.Time) BatchStats {
	details := make([]ItemDetail, 0, len(b.Items))
	for _, it := range b.Items {
		d := ItemDetail{
			Filename:    it.Filename,
			State:       it.State,
			RiskFlags:   it.RiskFlags,
			Action:      actionFor(it),
			Destination: it.Destination,
			Error:       it.Error,
		}
		if it.Decision != nil {
			d.Route = it.Decision.Route
			d.RuleID = it.Decision.RuleID
			d.Entity = it.Decision.Entity
			d.Confidence = it.Decision.Confidence
		}
		details = append(details, d)
	}
	sort.SliceStable(details, func(i, j int) bool { return details[i].Filename < details[j].Filename })
	return BatchStats{
		BatchID:   b.ID,
		Mode:      b.Mode,
		Timestamp: now.UTC(),
		Counts:    b.Counts,
		Details:   details,
	}
}

func actionFor(it *Item) string {
	switch {
	case it.Error != "":
		return "error"
	case it.State == StateMoved:
		return "auto_routed"
	case it.State == StateQuarantined:
		return "quarantined"
	case it.State == StateArchived:
		return "duplicate_skipped"
	case it.State == StateKBReviewRequired:
		return "kb_review"
	default:
		return "review"
	}
}

// BatchSummary is the archived header of a batch without its items.
type BatchSummary struct {
	ID         string      `json:"batch_id"`
	Mode       Mode        `json:"mode"`
	StartedAt  time.Time   `json:"started_at"`
	DurationMS int64       `json:"duration_ms"`
	Counts     BatchCounts `json:"counts"`
	BatchLog   *string     `json:"batch_log"`
}
