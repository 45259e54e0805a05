package routing

import (
	"context"
	"testing"
)

func TestSignalDetectorScoresBySignalStrength(t *testing.T) {
	d := NewSignalDetector(Config{EntitySignals: map[string]EntitySignals{
		"ddm":  {Name: "Downtown Dental Management"},
		"acme": {Addresses: []string{"12 Main St"}},
		"desk": {Aliases: []string{"frontdesk"}},
	}})

	got := d.Detect(context.Background(), "scan.pdf", "Bill to Downtown Dental Management, 12 main st. cc frontdesk")
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %+v", got)
	}
	if got[0].Entity != "DDM" || got[0].Confidence != nameSignalConfidence {
		t.Fatalf("unexpected top candidate %+v", got[0])
	}
	if got[1].Entity != "ACME" || got[2].Entity != "DESK" {
		t.Fatalf("unexpected order %+v", got)
	}
}

func TestSignalDetectorEmptyText(t *testing.T) {
	d := NewSignalDetector(Config{EntitySignals: map[string]EntitySignals{"ddm": {Name: "DDM"}}})
	if got := d.Detect(context.Background(), "", "  "); len(got) != 0 {
		t.Fatalf("expected no candidates, got %+v", got)
	}
}
