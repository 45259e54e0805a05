package routing

import (
	"context"
	"sort"
	"strings"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

const (
	nameSignalConfidence    = 0.9
	addressSignalConfidence = 0.75
	aliasSignalConfidence   = 0.6
)

// SignalDetector scores every configured entity by the strongest signal
// found in the filename and text. It backs items that arrive without a
// sidecar carrying detected entities.
type SignalDetector struct {
	signals map[string]EntitySignals
}

func NewSignalDetector(cfg Config) *SignalDetector {
	return &SignalDetector{signals: cfg.EntitySignals}
}

func (d *SignalDetector) Detect(_ context.Context, filename, text string) []domain.EntityCandidate {
	norm := NormalizeText(filename + " " + text)
	if norm == "" {
		return nil
	}
	toks := tokens(norm)

	out := []domain.EntityCandidate{}
	for _, id := range sortedKeys(d.signals) {
		if conf := scoreEntity(id, d.signals[id], norm, toks); conf > 0 {
			out = append(out, domain.EntityCandidate{Entity: strings.ToUpper(id), Confidence: conf})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func scoreEntity(id string, sig EntitySignals, norm string, toks map[string]bool) float64 {
	terms := append([]string{sig.Name}, sig.Names...)
	terms = append(terms, sig.Keywords...)
	for _, term := range terms {
		if t := NormalizeText(term); len(t) >= 2 && strings.Contains(norm, t) {
			return nameSignalConfidence
		}
	}
	for _, addr := range sig.Addresses {
		if a := NormalizeText(addr); a != "" && strings.Contains(norm, a) {
			return addressSignalConfidence
		}
	}
	for _, alias := range append([]string{id}, sig.Aliases...) {
		if a := NormalizeText(alias); a != "" && toks[a] {
			return aliasSignalConfidence
		}
	}
	return 0
}
