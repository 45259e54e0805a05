package ollama

import "strings"

var validDepartments = map[string]bool{
	"CFO": true, "CLO": true, "CMO": true, "CTO": true, "COO": true, "CSO": true, "EXEC": true,
}

var departmentKeywords = []struct {
	dept     string
	keywords []string
}{
	{"CFO", []string{"financ", "insur", "receipt", "invoice", "payment"}},
	{"CLO", []string{"legal", "contract", "agreement", "nda"}},
	{"CTO", []string{"spec", "api", "code", "tech"}},
	{"CMO", []string{"marketing", "campaign", "press"}},
	{"COO", []string{"inventory", "shipping", "logistic", "operation"}},
	{"CSO", []string{"security", "audit", "risk"}},
}

var insuranceSignals = []string{"insurance", "insur", "policy", "premium", "coverage"}

// NormalizeDepartment maps free-form model output onto the department set.
// Insurance wording in the document always lands on CFO.
func NormalizeDepartment(raw, context string) string {
	ctx := strings.ToLower(context)
	for _, s := range insuranceSignals {
		if strings.Contains(ctx, s) {
			return "CFO"
		}
	}

	dept := strings.ToUpper(strings.TrimSpace(raw))
	if validDepartments[dept] {
		return dept
	}
	low := strings.ToLower(dept)
	for _, m := range departmentKeywords {
		for _, kw := range m.keywords {
			if strings.Contains(low, kw) {
				return m.dept
			}
		}
	}
	return "EXEC"
}
