package routing

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

type Thresholds struct {
	Legal            float64 `yaml:"legal"`
	Conflict         float64 `yaml:"conflict"`
	FinanceAutoRoute float64 `yaml:"finance_auto_route"`
	AutoRoute        float64 `yaml:"auto_route"`
	AIAutoRoute      float64 `yaml:"ai_auto_route"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Legal:            0.5,
		Conflict:         0.6,
		FinanceAutoRoute: 0.7,
		AutoRoute:        0.7,
		AIAutoRoute:      0.85,
	}
}

type EntitySignals struct {
	Name      string   `yaml:"name"`
	Names     []string `yaml:"names"`
	Keywords  []string `yaml:"keywords"`
	Addresses []string `yaml:"addresses"`
	Aliases   []string `yaml:"aliases"`
}

type VendorRule struct {
	Entity     string   `yaml:"entity"`
	Patterns   []string `yaml:"patterns"`
	Confidence float64  `yaml:"confidence"`

	compiled []*regexp.Regexp
}

type InsuranceRule struct {
	Keywords []string `yaml:"keywords"`
	Office   string   `yaml:"office"`
}

type DedupConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Policy  string `yaml:"policy"`
}

const (
	DedupPolicySkip = "skip"
	DedupPolicyTag  = "tag"
)

func (d DedupConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Config is loaded once and treated as read-only by every consumer.
type Config struct {
	Thresholds         Thresholds               `yaml:"thresholds"`
	LegalEntities      []string                 `yaml:"legal_entities"`
	AutoRouteAllowList []string                 `yaml:"auto_route_allow_list"`
	DeskEntity         string                   `yaml:"desk_entity"`
	LegacyAutoRoute    bool                     `yaml:"legacy_auto_route"`
	AIAutoRoute        bool                     `yaml:"ai_auto_route"`
	EntitySignals      map[string]EntitySignals `yaml:"entity_signals"`
	VendorRules        []VendorRule             `yaml:"vendor_rules"`
	DocTypeToFunction  map[string]string        `yaml:"doc_type_to_function"`
	KeywordsToFunction map[string]string        `yaml:"keywords_to_function"`
	FilenameOverrides  map[string]string        `yaml:"filename_overrides"`
	Insurance          InsuranceRule            `yaml:"insurance"`
	RoutePaths         map[string]string        `yaml:"route_paths"`
	EntityToOffice     map[string]string        `yaml:"entity_to_office"`
	FunctionToOffice   map[string]string        `yaml:"function_to_office"`
	Dedup              DedupConfig              `yaml:"dedup"`
}

var officePattern = regexp.MustCompile(`^[A-Z]{3,4}$`)

// IsOfficeKey reports whether name looks like an office code.
func IsOfficeKey(name string) bool {
	return officePattern.MatchString(name)
}

// Validate reports shape errors without keeping the compiled value.
func (c Config) Validate() error {
	_, err := c.Compile()
	return err
}

// Compile fills defaults, validates shape and precompiles vendor patterns.
func (c Config) Compile() (Config, error) {
	out := c
	def := DefaultThresholds()
	if out.Thresholds.Legal <= 0 {
		out.Thresholds.Legal = def.Legal
	}
	if out.Thresholds.Conflict <= 0 {
		out.Thresholds.Conflict = def.Conflict
	}
	if out.Thresholds.FinanceAutoRoute <= 0 {
		out.Thresholds.FinanceAutoRoute = def.FinanceAutoRoute
	}
	if out.Thresholds.AutoRoute <= 0 {
		out.Thresholds.AutoRoute = def.AutoRoute
	}
	if out.Thresholds.AIAutoRoute <= 0 {
		out.Thresholds.AIAutoRoute = def.AIAutoRoute
	}
	for name, v := range map[string]float64{
		"legal":              out.Thresholds.Legal,
		"conflict":           out.Thresholds.Conflict,
		"finance_auto_route": out.Thresholds.FinanceAutoRoute,
		"auto_route":         out.Thresholds.AutoRoute,
		"ai_auto_route":      out.Thresholds.AIAutoRoute,
	} {
		if v > 1 {
			return Config{}, fmt.Errorf("%w: threshold %s must be within (0,1], got %v", domain.ErrInvalidInput, name, v)
		}
	}

	switch out.Dedup.Policy {
	case "", DedupPolicySkip, DedupPolicyTag:
	default:
		return Config{}, fmt.Errorf("%w: unknown dedup policy %q", domain.ErrInvalidInput, out.Dedup.Policy)
	}

	rules := make([]VendorRule, 0, len(out.VendorRules))
	for i, rule := range out.VendorRules {
		if strings.TrimSpace(rule.Entity) == "" {
			return Config{}, fmt.Errorf("%w: vendor_rules[%d] has no entity", domain.ErrInvalidInput, i)
		}
		compiled := make([]*regexp.Regexp, 0, len(rule.Patterns))
		for _, p := range rule.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return Config{}, fmt.Errorf("%w: vendor_rules[%d] pattern %q: %v", domain.ErrInvalidInput, i, p, err)
			}
			compiled = append(compiled, re)
		}
		rule.compiled = compiled
		rules = append(rules, rule)
	}
	out.VendorRules = rules

	for prefix, route := range out.FilenameOverrides {
		if strings.TrimSpace(route) == "" {
			return Config{}, fmt.Errorf("%w: filename override %q has no route", domain.ErrInvalidInput, prefix)
		}
	}
	for route, rel := range out.RoutePaths {
		if path.IsAbs(rel) || strings.Contains(rel, "..") {
			return Config{}, fmt.Errorf("%w: route_paths[%s] must be relative to the navi root", domain.ErrInvalidInput, route)
		}
	}
	return out, nil
}

func (r VendorRule) matches(text string) bool {
	patterns := r.compiled
	if patterns == nil {
		for _, p := range r.Patterns {
			if re, err := regexp.Compile("(?i)" + p); err == nil {
				patterns = append(patterns, re)
			}
		}
	}
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// RouteTarget holds navi-root relative paths for a route.
type RouteTarget struct {
	Route          string `json:"route"`
	StorageRel     string `json:"storage,omitempty"`
	Office         string `json:"office,omitempty"`
	OfficeInboxRel string `json:"office_inbox,omitempty"`
}

// PathsForRoute resolves a route to its storage and office inbox paths.
// Sentinel routes have neither; the applier picks their holding area.
func (c Config) PathsForRoute(route string) RouteTarget {
	target := RouteTarget{Route: route}
	if route == "" || domain.IsSentinelRoute(route) {
		return target
	}

	head, function, _ := strings.Cut(route, ".")
	if rel, ok := c.RoutePaths[route]; ok {
		target.StorageRel = path.Clean(rel)
	} else if function != "" {
		target.StorageRel = path.Join("sorted", head, function, "INBOX")
	} else {
		target.StorageRel = path.Join("sorted", head, "INBOX")
	}

	office := lookupFold(c.EntityToOffice, head)
	if office == "" && function != "" {
		office = lookupFold(c.FunctionToOffice, function)
	}
	if office != "" {
		target.Office = office
		target.OfficeInboxRel = path.Join("offices", office, "inbox")
	}
	return target
}

func lookupFold(m map[string]string, key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	for _, k := range sortedKeys(m) {
		if strings.EqualFold(k, key) {
			return m[k]
		}
	}
	return ""
}

func containsFold(list []string, value string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), value) {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// longestFirst orders keys so that more specific phrases are tried first.
func longestFirst[V any](m map[string]V) []string {
	keys := sortedKeys(m)
	sort.SliceStable(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return keys
}
