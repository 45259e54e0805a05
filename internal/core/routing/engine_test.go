package routing

import (
	"reflect"
	"testing"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := Config{
		LegalEntities:      []string{"LEGAL"},
		AutoRouteAllowList: []string{"DDM", "ACME"},
		DeskEntity:         "DESK",
		EntitySignals: map[string]EntitySignals{
			"DDM": {
				Names:     []string{"DDM Holdings"},
				Keywords:  []string{"ddm"},
				Addresses: []string{"12 Harbour Road"},
			},
			"ACME": {
				Names:   []string{"Acme Corporation"},
				Aliases: []string{"acmeco"},
			},
		},
		VendorRules: []VendorRule{{
			Entity:     "DDM",
			Patterns:   []string{`account\s*(no|number)\.?:?\s*\d{6,}`},
			Confidence: 0.8,
		}},
		Insurance: InsuranceRule{Keywords: []string{"insurance", "policy"}, Office: "CFO"},
	}.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return cfg
}

func TestDecideIsDeterministic(t *testing.T) {
	cfg := testConfig(t)
	in := Input{
		Filename: "bill_test.pdf",
		Text:     "Account No: 1234567",
		Entities: []domain.EntityCandidate{{Entity: "DDM", Confidence: 0.9}, {Entity: "OTHER", Confidence: 0.3}},
	}
	first := Decide(in, cfg)
	for i := 0; i < 10; i++ {
		if got := Decide(in, cfg); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}

	shuffled := in
	shuffled.Entities = []domain.EntityCandidate{{Entity: "OTHER", Confidence: 0.3}, {Entity: "ddm", Confidence: 90}}
	if got := Decide(shuffled, cfg); !reflect.DeepEqual(got, first) {
		t.Fatalf("entity order or scale changed the decision: %+v vs %+v", got, first)
	}
}

func TestDecideFinanceEntityAutoRoute(t *testing.T) {
	cfg := testConfig(t)
	d := Decide(Input{
		Filename: "bill_test.pdf",
		Text:     "Account No: 1234567",
		Entities: []domain.EntityCandidate{{Entity: "DDM", Confidence: 0.9}},
	}, cfg)

	if d.Route != "DDM.Finance" || !d.AutoRoute {
		t.Fatalf("expected auto route to DDM.Finance, got %+v", d)
	}
	if d.RuleID != RuleFinanceEntity {
		t.Fatalf("expected %s, got %s", RuleFinanceEntity, d.RuleID)
	}
	if d.Confidence != 90 {
		t.Fatalf("expected confidence 90, got %d", d.Confidence)
	}
}

func TestDecideLegalOverridesFinance(t *testing.T) {
	cfg := testConfig(t)
	d := Decide(Input{
		Filename: "invoice.pdf",
		Text:     "invoice for services",
		Entities: []domain.EntityCandidate{{Entity: "LEGAL", Confidence: 0.6}, {Entity: "DDM", Confidence: 0.9}},
	}, cfg)

	if d.RuleID != RuleLegal || !d.LegalBlocked || d.AutoRoute {
		t.Fatalf("expected legal block, got %+v", d)
	}
	if d.Route != domain.RouteReviewRequired || d.RuleReason != ReasonLegalBlock {
		t.Fatalf("unexpected legal decision: %+v", d)
	}
}

func TestDecideLegalBelowThresholdDoesNotBlock(t *testing.T) {
	cfg := testConfig(t)
	d := Decide(Input{
		Filename: "invoice.pdf",
		Text:     "invoice",
		Entities: []domain.EntityCandidate{{Entity: "DDM", Confidence: 0.9}, {Entity: "LEGAL", Confidence: 0.4}},
	}, cfg)
	if d.LegalBlocked || d.RuleID != RuleFinanceEntity {
		t.Fatalf("expected finance auto route, got %+v", d)
	}
}

func TestDecideThresholdsCompareUnroundedConfidence(t *testing.T) {
	cfg := testConfig(t)

	d := Decide(Input{
		Filename: "letter.txt",
		Text:     "letter",
		Entities: []domain.EntityCandidate{{Entity: "LEGAL", Confidence: 0.496}},
	}, cfg)
	if d.LegalBlocked || d.RuleID == RuleLegal {
		t.Fatalf("LEGAL at 0.496 is below the legal threshold, got %+v", d)
	}

	d = Decide(Input{
		Filename: "invoice.txt",
		Text:     "invoice",
		Entities: []domain.EntityCandidate{{Entity: "DDM", Confidence: 0.695}},
	}, cfg)
	if d.AutoRoute || d.RuleID == RuleFinanceEntity {
		t.Fatalf("DDM at 0.695 is below the finance threshold, got %+v", d)
	}

	d = Decide(Input{
		Filename: "invoice.txt",
		Text:     "invoice",
		Entities: []domain.EntityCandidate{{Entity: "DDM", Confidence: 70}},
	}, cfg)
	if !d.AutoRoute || d.RuleID != RuleFinanceEntity {
		t.Fatalf("DDM at 70%% meets the finance threshold, got %+v", d)
	}
}

func TestDecideConflictOverridesFinance(t *testing.T) {
	cfg := testConfig(t)
	d := Decide(Input{
		Filename: "invoice.pdf",
		Text:     "invoice",
		Entities: []domain.EntityCandidate{{Entity: "DDM", Confidence: 0.9}, {Entity: "ACME", Confidence: 0.7}},
	}, cfg)

	if d.RuleID != RuleConflict || d.ConflictReason != ReasonEntityConflict || d.AutoRoute {
		t.Fatalf("expected entity conflict, got %+v", d)
	}
}

func TestDecideFinanceSignalAutoRoute(t *testing.T) {
	cfg := testConfig(t)
	d := Decide(Input{
		Filename: "scan.pdf",
		Text:     "Invoice from DDM Holdings",
		Entities: []domain.EntityCandidate{{Entity: "OTHER", Confidence: 0.75}},
	}, cfg)
	if d.RuleID != RuleFinanceSignal || d.Route != "DDM.Finance" || d.Confidence != 75 {
		t.Fatalf("expected signal auto route, got %+v", d)
	}
}

func TestDecideFinanceVendorHeuristic(t *testing.T) {
	cfg := testConfig(t)
	d := Decide(Input{
		Filename: "statement.txt",
		Text:     "Invoice\nAccount No: 1234567",
	}, cfg)
	if d.RuleID != RuleFinanceVendor || d.Route != "DDM.Finance" || !d.AutoRoute {
		t.Fatalf("expected vendor heuristic, got %+v", d)
	}
	if d.Confidence != 80 {
		t.Fatalf("expected vendor confidence 80, got %d", d.Confidence)
	}
}

func TestDecideFinanceDeskAlone(t *testing.T) {
	cfg := testConfig(t)
	d := Decide(Input{
		Filename: "receipt.txt",
		Text:     "receipt",
		Entities: []domain.EntityCandidate{{Entity: "DESK", Confidence: 0.8}},
	}, cfg)
	if d.RuleID != RuleFinanceDesk || d.Route != "DESK.Finance" {
		t.Fatalf("expected desk auto route, got %+v", d)
	}

	d = Decide(Input{
		Filename: "receipt.txt",
		Text:     "receipt",
		Entities: []domain.EntityCandidate{{Entity: "DESK", Confidence: 0.8}, {Entity: "OTHER", Confidence: 0.2}},
	}, cfg)
	if d.RuleID == RuleFinanceDesk {
		t.Fatalf("desk rule must require the desk entity alone, got %+v", d)
	}
}

func TestDecideBelowThresholdFallsBackToReview(t *testing.T) {
	cfg := testConfig(t)
	d := Decide(Input{
		Filename: "invoice.pdf",
		Text:     "invoice",
		Entities: []domain.EntityCandidate{{Entity: "DDM", Confidence: 0.5}},
	}, cfg)
	if d.RuleID != RuleDefaultReview || d.AutoRoute || d.Route != domain.RouteReviewRequired {
		t.Fatalf("expected default review, got %+v", d)
	}
}

func TestDecideWithoutSignalsNeverPanics(t *testing.T) {
	d := Decide(Input{}, Config{})
	if d.RuleID != RuleDefaultReview || d.Route != domain.RouteReviewRequired {
		t.Fatalf("expected default review, got %+v", d)
	}
	if len(d.Reasons) == 0 {
		t.Fatalf("expected reasons on default review")
	}
}

func TestDecideLegacyThresholdOnlyWhenEnabled(t *testing.T) {
	cfg := testConfig(t)
	in := Input{
		Filename: "contract.docx",
		Text:     "master services contract",
		Entities: []domain.EntityCandidate{{Entity: "ACME", Confidence: 0.8}},
	}
	if d := Decide(in, cfg); d.AutoRoute {
		t.Fatalf("legacy auto route must be off by default, got %+v", d)
	}

	cfg.LegacyAutoRoute = true
	d := Decide(in, cfg)
	if d.RuleID != RuleLegacyThreshold || d.Route != "ACME.Legal" {
		t.Fatalf("expected legacy auto route to ACME.Legal, got %+v", d)
	}
}

func TestDecideInsuranceFilenameHeuristic(t *testing.T) {
	cfg := testConfig(t)
	d := Decide(Input{Filename: "home_insurance_2026.png"}, cfg)
	if d.RuleID != RuleInsuranceFilename || d.Route != "CFO.Finance" {
		t.Fatalf("expected insurance heuristic, got %+v", d)
	}
}

func TestDecideFilenameOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.FilenameOverrides = map[string]string{"acme_": "ACME.Operations"}
	d := Decide(Input{Filename: "ACME_weekly.txt"}, cfg)
	if d.RuleID != RuleFilenameOverride || d.Route != "ACME.Operations" || !d.AutoRoute {
		t.Fatalf("expected filename override, got %+v", d)
	}
}

func TestDecideAIDepartmentRequiresHighConfidence(t *testing.T) {
	cfg := testConfig(t)
	cfg.AIAutoRoute = true
	in := Input{
		Filename: "memo.txt",
		Text:     "quarterly invoice summary",
		AI:       &domain.AIClassification{Department: "cfo", Confidence: 80},
	}
	if d := Decide(in, cfg); d.RuleID == RuleAIDepartment {
		t.Fatalf("80%% must not meet the 85%% classifier threshold")
	}
	in.AI.Confidence = 92
	d := Decide(in, cfg)
	if d.RuleID != RuleAIDepartment || d.Route != "CFO.Finance" {
		t.Fatalf("expected classifier auto route, got %+v", d)
	}
}

func TestMatchEntityPrefersLongestName(t *testing.T) {
	cfg := testConfig(t)
	m := MatchEntity("Payment from ddm on behalf of Acme   Corporation", cfg.EntitySignals)
	if m.Entity != "ACME" || m.Kind != "name" {
		t.Fatalf("expected ACME by longest name, got %+v", m)
	}
}

func TestMatchEntityFallsBackToAddressThenAlias(t *testing.T) {
	cfg := testConfig(t)
	if m := MatchEntity("Deliver to 12 harbour road", cfg.EntitySignals); m.Entity != "DDM" || m.Kind != "address" {
		t.Fatalf("expected address match, got %+v", m)
	}
	if m := MatchEntity("ref acmeco-77", cfg.EntitySignals); m.Entity != "ACME" || m.Kind != "alias" {
		t.Fatalf("expected alias match, got %+v", m)
	}
	if m := MatchEntity("", cfg.EntitySignals); m.Entity != "" {
		t.Fatalf("expected no match for empty text")
	}
}

func TestGuessDocTypePrefersConfiguredTypes(t *testing.T) {
	cfg := testConfig(t)
	cfg.DocTypeToFunction = map[string]string{"purchase order": "Operations", "order": "Sales"}

	if got := GuessDocType("po.txt", "Purchase  Order #5", nil, cfg); got != "purchase order" {
		t.Fatalf("expected purchase order, got %q", got)
	}
	if got := GuessDocType("image.png", "invoice", nil, cfg); got != "" {
		t.Fatalf("heuristics apply only to textual extensions, got %q", got)
	}
	if got := GuessDocType("image.png", "", &domain.AIClassification{DocType: "Receipt"}, cfg); got != "receipt" {
		t.Fatalf("expected AI doc type hint, got %q", got)
	}
	if got := FunctionFor("purchase order", "", cfg); got != "Operations" {
		t.Fatalf("expected Operations, got %q", got)
	}
}

func TestDetectFunctionUsesKeywords(t *testing.T) {
	cfg := Config{KeywordsToFunction: map[string]string{"payroll": "HR", "pay": "Finance"}}
	if got := DetectFunction("Monthly PAYROLL run", cfg); got != "HR" {
		t.Fatalf("expected HR, got %q", got)
	}
}
