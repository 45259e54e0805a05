package routing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

const (
	RuleLegal             = "REVIEW_REQUIRED_LEGAL_V1"
	RuleConflict          = "REVIEW_REQUIRED_CONFLICT_V1"
	RuleFilenameOverride  = "FILENAME_OVERRIDE_V1"
	RuleFinanceEntity     = "FINANCE_ENTITY_AUTOROUTE_V1"
	RuleFinanceSignal     = "FINANCE_SIGNAL_AUTOROUTE_V1"
	RuleFinanceVendor     = "FINANCE_VENDOR_HEURISTIC_V1"
	RuleFinanceDesk       = "FINANCE_DESK_AUTOROUTE_V1"
	RuleLegacyThreshold   = "LEGACY_THRESHOLD_AUTOROUTE_V1"
	RuleAIDepartment      = "AI_DEPARTMENT_AUTOROUTE_V1"
	RuleInsuranceFilename = "INSURANCE_FILENAME_HEURISTIC_V1"
	RuleDefaultReview     = "REVIEW_REQUIRED_DEFAULT_V1"
	RuleDuplicateSkipped  = "DUPLICATE_SKIPPED_V1"
	RuleQuarantined       = "QUARANTINED_EXECUTABLE_V1"
	RuleKBReview          = "KB_REVIEW_REQUIRED_V1"

	ReasonLegalBlock     = "LEGAL_BLOCK"
	ReasonEntityConflict = "ENTITY_CONFLICT"

	FunctionFinance = "Finance"
)

// Input is everything the engine looks at for one item.
type Input struct {
	Filename string
	Text     string
	Entities []domain.EntityCandidate
	AI       *domain.AIClassification
}

type analysis struct {
	in         Input
	entities   []domain.EntityCandidate
	textEntity EntityMatch
	docType    string
	function   string
}

func (a analysis) top() (domain.EntityCandidate, bool) {
	if len(a.entities) == 0 {
		return domain.EntityCandidate{}, false
	}
	return a.entities[0], true
}

func (a analysis) topConfidence() float64 {
	if top, ok := a.top(); ok {
		return top.Confidence
	}
	return 0
}

func (a analysis) confidenceOf(entity string) float64 {
	for _, e := range a.entities {
		if strings.EqualFold(e.Entity, entity) {
			return e.Confidence
		}
	}
	return 0
}

type rule func(a analysis, cfg Config) (domain.Decision, bool)

var rules = []rule{
	legalRule,
	conflictRule,
	filenameOverrideRule,
	financeEntityRule,
	financeSignalRule,
	financeVendorRule,
	financeDeskRule,
	legacyThresholdRule,
	aiDepartmentRule,
	insuranceFilenameRule,
}

// Decide is a pure function of its inputs; the first matching rule wins.
func Decide(in Input, cfg Config) domain.Decision {
	a := analyze(in, cfg)

	var d domain.Decision
	matched := false
	for _, r := range rules {
		if d, matched = r(a, cfg); matched {
			break
		}
	}
	if !matched {
		d = defaultReview(a)
	}

	if d.Function == "" {
		d.Function = a.function
	}
	if d.DocType == "" {
		d.DocType = a.docType
	}
	if d.Entity == "" {
		if top, ok := a.top(); ok {
			d.Entity = top.Entity
		} else {
			d.Entity = a.textEntity.Entity
		}
	}
	if a.textEntity.Entity != "" {
		d.Reasons = append(d.Reasons, fmt.Sprintf("text signal %q (%s) matched entity %s", a.textEntity.Signal, a.textEntity.Kind, a.textEntity.Entity))
	}
	return d
}

func analyze(in Input, cfg Config) analysis {
	entities := make([]domain.EntityCandidate, 0, len(in.Entities))
	for _, e := range in.Entities {
		name := strings.ToUpper(strings.TrimSpace(e.Entity))
		if name == "" {
			continue
		}
		entities = append(entities, domain.EntityCandidate{
			Entity:     name,
			Confidence: domain.ConfidenceFraction(e.Confidence),
		})
	}
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Confidence != entities[j].Confidence {
			return entities[i].Confidence > entities[j].Confidence
		}
		return entities[i].Entity < entities[j].Entity
	})

	docType := GuessDocType(in.Filename, in.Text, in.AI, cfg)
	return analysis{
		in:         in,
		entities:   entities,
		textEntity: MatchEntity(in.Filename+" "+in.Text, cfg.EntitySignals),
		docType:    docType,
		function:   FunctionFor(docType, in.Filename+" "+in.Text, cfg),
	}
}

func pct(v float64) int {
	return domain.NormalizeConfidence(v)
}

func review(ruleID string, confidence float64, reasons ...string) domain.Decision {
	return domain.Decision{
		Route:      domain.RouteReviewRequired,
		AutoRoute:  false,
		RuleID:     ruleID,
		Confidence: pct(confidence),
		Reasons:    reasons,
	}
}

func autoRoute(ruleID, entity, function string, confidence float64, reasons ...string) domain.Decision {
	return domain.Decision{
		Route:      entity + "." + function,
		AutoRoute:  true,
		RuleID:     ruleID,
		Entity:     entity,
		Function:   function,
		Confidence: pct(confidence),
		Reasons:    reasons,
	}
}

func legalRule(a analysis, cfg Config) (domain.Decision, bool) {
	for _, e := range a.entities {
		if !containsFold(cfg.LegalEntities, e.Entity) || e.Confidence < cfg.Thresholds.Legal {
			continue
		}
		d := review(RuleLegal, e.Confidence, fmt.Sprintf(
			"legal entity %s detected at %d%% (threshold %d%%)", e.Entity, pct(e.Confidence), pct(cfg.Thresholds.Legal),
		))
		d.Entity = e.Entity
		d.RuleReason = ReasonLegalBlock
		d.LegalBlocked = true
		return d, true
	}
	return domain.Decision{}, false
}

func conflictRule(a analysis, cfg Config) (domain.Decision, bool) {
	var strong []domain.EntityCandidate
	seen := map[string]bool{}
	for _, e := range a.entities {
		if e.Confidence >= cfg.Thresholds.Conflict && !seen[e.Entity] {
			seen[e.Entity] = true
			strong = append(strong, e)
		}
	}
	if len(strong) < 2 {
		return domain.Decision{}, false
	}
	d := review(RuleConflict, strong[0].Confidence, fmt.Sprintf(
		"entities %s (%d%%) and %s (%d%%) both meet conflict threshold %d%%",
		strong[0].Entity, pct(strong[0].Confidence), strong[1].Entity, pct(strong[1].Confidence), pct(cfg.Thresholds.Conflict),
	))
	d.ConflictReason = ReasonEntityConflict
	return d, true
}

func filenameOverrideRule(a analysis, cfg Config) (domain.Decision, bool) {
	name := strings.ToLower(a.in.Filename)
	for _, prefix := range longestFirst(cfg.FilenameOverrides) {
		p := strings.ToLower(strings.TrimSpace(prefix))
		if p == "" || !strings.HasPrefix(name, p) {
			continue
		}
		route := cfg.FilenameOverrides[prefix]
		head, function, _ := strings.Cut(route, ".")
		return domain.Decision{
			Route:      route,
			AutoRoute:  !domain.IsSentinelRoute(route),
			RuleID:     RuleFilenameOverride,
			Entity:     head,
			Function:   function,
			Confidence: 100,
			Reasons:    []string{fmt.Sprintf("filename prefix %q overrides routing to %s", prefix, route)},
		}, true
	}
	return domain.Decision{}, false
}

func financeEntityRule(a analysis, cfg Config) (domain.Decision, bool) {
	if a.function != FunctionFinance {
		return domain.Decision{}, false
	}
	top, ok := a.top()
	if !ok || !containsFold(cfg.AutoRouteAllowList, top.Entity) || top.Confidence < cfg.Thresholds.FinanceAutoRoute {
		return domain.Decision{}, false
	}
	return autoRoute(RuleFinanceEntity, top.Entity, FunctionFinance, top.Confidence, fmt.Sprintf(
		"finance document; top entity %s at %d%% is on the auto-route list (threshold %d%%)",
		top.Entity, pct(top.Confidence), pct(cfg.Thresholds.FinanceAutoRoute),
	)), true
}

func financeSignalRule(a analysis, cfg Config) (domain.Decision, bool) {
	if a.function != FunctionFinance || a.textEntity.Entity == "" {
		return domain.Decision{}, false
	}
	entity := strings.ToUpper(a.textEntity.Entity)
	conf := a.topConfidence()
	if !containsFold(cfg.AutoRouteAllowList, entity) || conf < cfg.Thresholds.FinanceAutoRoute {
		return domain.Decision{}, false
	}
	return autoRoute(RuleFinanceSignal, entity, FunctionFinance, conf, fmt.Sprintf(
		"finance document; text signal matched %s and detector confidence is %d%% (threshold %d%%)",
		entity, pct(conf), pct(cfg.Thresholds.FinanceAutoRoute),
	)), true
}

func financeVendorRule(a analysis, cfg Config) (domain.Decision, bool) {
	if a.function != FunctionFinance {
		return domain.Decision{}, false
	}
	haystack := a.in.Filename + "\n" + a.in.Text
	for _, vr := range cfg.VendorRules {
		if !vr.matches(haystack) {
			continue
		}
		entity := strings.ToUpper(strings.TrimSpace(vr.Entity))
		conf := a.confidenceOf(entity)
		if fallback := domain.ConfidenceFraction(vr.Confidence); fallback > conf {
			conf = fallback
		}
		return autoRoute(RuleFinanceVendor, entity, FunctionFinance, conf, fmt.Sprintf(
			"finance document; vendor heuristic for %s matched at %d%%", entity, pct(conf),
		)), true
	}
	return domain.Decision{}, false
}

func financeDeskRule(a analysis, cfg Config) (domain.Decision, bool) {
	if a.function != FunctionFinance || cfg.DeskEntity == "" || len(a.entities) != 1 {
		return domain.Decision{}, false
	}
	only := a.entities[0]
	if !strings.EqualFold(only.Entity, cfg.DeskEntity) || only.Confidence < cfg.Thresholds.FinanceAutoRoute {
		return domain.Decision{}, false
	}
	return autoRoute(RuleFinanceDesk, only.Entity, FunctionFinance, only.Confidence, fmt.Sprintf(
		"finance document; desk entity %s is the only candidate at %d%%", only.Entity, pct(only.Confidence),
	)), true
}

func legacyThresholdRule(a analysis, cfg Config) (domain.Decision, bool) {
	if !cfg.LegacyAutoRoute || a.function == "" {
		return domain.Decision{}, false
	}
	top, ok := a.top()
	if !ok || top.Confidence < cfg.Thresholds.AutoRoute {
		return domain.Decision{}, false
	}
	return autoRoute(RuleLegacyThreshold, top.Entity, a.function, top.Confidence, fmt.Sprintf(
		"entity %s at %d%% meets auto-route threshold %d%% for %s",
		top.Entity, pct(top.Confidence), pct(cfg.Thresholds.AutoRoute), a.function,
	)), true
}

func aiDepartmentRule(a analysis, cfg Config) (domain.Decision, bool) {
	if !cfg.AIAutoRoute || a.in.AI == nil || a.function == "" {
		return domain.Decision{}, false
	}
	dept := strings.ToUpper(strings.TrimSpace(a.in.AI.Department))
	conf := domain.ConfidenceFraction(float64(a.in.AI.Confidence))
	if !IsOfficeKey(dept) || conf < cfg.Thresholds.AIAutoRoute {
		return domain.Decision{}, false
	}
	return autoRoute(RuleAIDepartment, dept, a.function, conf, fmt.Sprintf(
		"classifier assigned %s at %d%% (threshold %d%%)", dept, pct(conf), pct(cfg.Thresholds.AIAutoRoute),
	)), true
}

func insuranceFilenameRule(a analysis, cfg Config) (domain.Decision, bool) {
	office := strings.TrimSpace(cfg.Insurance.Office)
	if office == "" {
		return domain.Decision{}, false
	}
	if strings.TrimSpace(a.in.Text) != "" && a.topConfidence() >= cfg.Thresholds.AutoRoute {
		return domain.Decision{}, false
	}
	name := strings.ToLower(a.in.Filename)
	for _, kw := range cfg.Insurance.Keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" || !strings.Contains(name, k) {
			continue
		}
		return autoRoute(RuleInsuranceFilename, office, FunctionFinance, a.topConfidence(), fmt.Sprintf(
			"insurance keyword %q in filename routes to %s", k, office,
		)), true
	}
	return domain.Decision{}, false
}

func defaultReview(a analysis) domain.Decision {
	reasons := []string{"no auto-route rule matched"}
	if len(a.entities) == 0 {
		reasons = append(reasons, "no detected entities")
	}
	if a.function == "" {
		reasons = append(reasons, "no business function mapped")
	}
	return review(RuleDefaultReview, a.topConfidence(), reasons...)
}
