package domain

import "strings"

type ApprovalDecision struct {
	Dept        string `json:"dept"`
	Sensitivity string `json:"sensitivity"`
}

type ApprovalItem struct {
	Filename string           `json:"filename"`
	Decision ApprovalDecision `json:"decision"`
	Notes    string           `json:"notes,omitempty"`
}

type ApprovalRequest struct {
	Reviewer   string         `json:"reviewer"`
	Status     string         `json:"status"`
	SnapshotID string         `json:"snapshot_id"`
	Timestamp  string         `json:"timestamp"`
	Items      []ApprovalItem `json:"items"`
}

const (
	BucketProcessed = "processed"
	BucketEscalated = "escalated"
	BucketRejected  = "rejected"
)

const (
	MoveStatusMoved   = "moved"
	MoveStatusSkipped = "skipped"
	MoveStatusMissing = "missing"
	MoveStatusError   = "error"
)

type MoveResult struct {
	Filename    string `json:"filename"`
	Status      string `json:"status"`
	Bucket      string `json:"bucket,omitempty"`
	Destination string `json:"destination,omitempty"`
	State       State  `json:"state,omitempty"`
	Error       string `json:"error,omitempty"`
}

type ApprovalResult struct {
	OK             bool         `json:"ok"`
	File           string       `json:"file"`
	MoveResults    []MoveResult `json:"move_results"`
	MovedProcessed int          `json:"moved_processed"`
	MovedEscalated int          `json:"moved_escalated"`
	MovedRejected  int          `json:"moved_rejected"`
	MissingCount   int          `json:"missing_count"`
	ErrorCount     int          `json:"error_count"`
}

// BucketFor maps a human decision onto its enforcement bucket.
func BucketFor(d ApprovalDecision) string {
	if d.Dept == "Trash" {
		return BucketRejected
	}
	if d.Sensitivity != "" && d.Sensitivity != "normal" {
		return BucketEscalated
	}
	return BucketProcessed
}

// StateForBucket is the final lifecycle state reached by an enforced decision.
func StateForBucket(bucket string) State {
	if bucket == BucketRejected {
		return StateRejected
	}
	return StateMoved
}

// ReviewDecisions is an operator-edited decisions file applied by the CLI.
type ReviewDecisions struct {
	BatchID   string           `json:"batchId"`
	Reviewer  string           `json:"reviewer"`
	Decisions []ReviewDecision `json:"decisions"`
}

type ReviewDecision struct {
	Filename    string `json:"filename"`
	Decision    string `json:"decision"`
	FinalRoute  string `json:"final_route"`
	HumanReason string `json:"human_reason"`
}

const (
	DecisionActionTrash = "trash"
	DecisionActionRoute = "route"
	DecisionActionHold  = "hold"
	DecisionActionSkip  = "skip"
)

// Action classifies a review decision. Discards and TRASH routes win over
// holds, and a route is only taken when one is named.
func (d ReviewDecision) Action() string {
	switch {
	case d.Decision == "discard" || strings.EqualFold(d.FinalRoute, "TRASH"):
		return DecisionActionTrash
	case d.Decision == "hold":
		return DecisionActionHold
	case strings.TrimSpace(d.FinalRoute) != "":
		return DecisionActionRoute
	default:
		return DecisionActionSkip
	}
}
