package domain

import "time"

const (
	SidecarSuffix = ".navi.json"
	MetaSuffix    = ".meta.json"
)

type Sidecar struct {
	Filename         string            `json:"filename"`
	ID               string            `json:"id,omitempty"`
	Route            string            `json:"route,omitempty"`
	State            State             `json:"state,omitempty"`
	Summary          string            `json:"summary,omitempty"`
	RiskFlags        []RiskFlag        `json:"risk_flags,omitempty"`
	DetectedEntities []EntityCandidate `json:"detectedEntities,omitempty"`
	Snippet          string            `json:"extracted_text_snippet,omitempty"`
	Routing          SidecarRouting    `json:"routing"`
	AIClassification *AIClassification `json:"ai_classification,omitempty"`
	Package          *PackageRef       `json:"package,omitempty"`
	HumanDecision    *HumanDecision    `json:"human_decision,omitempty"`
}

type SidecarRouting struct {
	RuleID         string     `json:"rule_id,omitempty"`
	RuleReason     string     `json:"rule_reason,omitempty"`
	Destination    string     `json:"destination,omitempty"`
	Confidence     int        `json:"confidence"`
	Reasons        []string   `json:"reasons,omitempty"`
	AppliedAt      *time.Time `json:"appliedAt,omitempty"`
	AutoRoute      bool       `json:"auto_route"`
	LegalBlocked   bool       `json:"legal_blocked,omitempty"`
	ConflictReason string     `json:"conflict_reason,omitempty"`
	Duplicate      bool       `json:"duplicate,omitempty"`
	DuplicateOf    *SeenEntry `json:"duplicate_of,omitempty"`
	ReasonCode     string     `json:"reason_code,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
}

type PackageRef struct {
	BatchID     string    `json:"batchId"`
	PackageName string    `json:"packageName"`
	RoutedAt    time.Time `json:"routedAt"`
}

type HumanDecision struct {
	Reviewer  string    `json:"reviewer"`
	Decision  string    `json:"decision"`
	Route     string    `json:"route,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// RoutingMeta travels with a delivery request and ends up in the meta file.
type RoutingMeta struct {
	RoutedTo   string   `json:"routedTo,omitempty"`
	Office     string   `json:"office,omitempty"`
	BatchID    string   `json:"batchId,omitempty"`
	RuleID     string   `json:"ruleId,omitempty"`
	Entity     string   `json:"entity,omitempty"`
	Function   string   `json:"function,omitempty"`
	Confidence int      `json:"confidence"`
	Reasons    []string `json:"reasons,omitempty"`
}

type DeliveryMeta struct {
	Filename    string      `json:"filename"`
	RoutedFrom  string      `json:"routedFrom"`
	RoutedTo    string      `json:"routedTo"`
	AppliedAt   time.Time   `json:"appliedAt"`
	Route       string      `json:"route"`
	RoutingMeta RoutingMeta `json:"routingMeta"`
	Checksum    string      `json:"checksum,omitempty"`
	Package     *PackageRef `json:"package,omitempty"`
}

// SidecarFromItem snapshots the item state for the on-disk sidecar.
func SidecarFromItem(it *Item) Sidecar {
	sc := Sidecar{
		Filename:         it.Filename,
		ID:               it.ID,
		State:            it.State,
		Summary:          it.Summary,
		RiskFlags:        it.RiskFlags,
		DetectedEntities: it.Entities,
		Snippet:          it.Snippet,
		AIClassification: it.AI,
	}
	if it.Decision != nil {
		sc.Route = it.Decision.Route
		sc.Routing = SidecarRouting{
			RuleID:         it.Decision.RuleID,
			RuleReason:     it.Decision.RuleReason,
			Confidence:     it.Decision.Confidence,
			Reasons:        it.Decision.Reasons,
			AutoRoute:      it.Decision.AutoRoute,
			LegalBlocked:   it.Decision.LegalBlocked,
			ConflictReason: it.Decision.ConflictReason,
		}
	}
	if it.DuplicateOf != nil {
		sc.Routing.Duplicate = true
		sc.Routing.DuplicateOf = it.DuplicateOf
	}
	sc.Routing.ReasonCode = it.ReasonCode
	sc.Routing.FailureReason = it.FailureReason
	return sc
}
