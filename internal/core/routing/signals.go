package routing

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

var fallbackDocTypeFunctions = map[string]string{
	"invoice":  "Finance",
	"bill":     "Finance",
	"receipt":  "Finance",
	"contract": "Legal",
}

var heuristicDocTypes = []string{"invoice", "bill", "receipt", "contract"}

var textualExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".txt":  true,
}

// NormalizeText collapses whitespace and lowercases.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func tokens(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[tok] = true
	}
	return out
}

// EntityMatch is the outcome of scanning text for configured entity signals.
type EntityMatch struct {
	Entity string
	Signal string
	Kind   string
}

// MatchEntity finds the entity whose configured signals appear in text.
// The longest name or keyword wins, then the first address, then a whole-token alias.
func MatchEntity(text string, signals map[string]EntitySignals) EntityMatch {
	norm := NormalizeText(text)
	if norm == "" || len(signals) == 0 {
		return EntityMatch{}
	}
	ids := sortedKeys(signals)

	var best EntityMatch
	for _, id := range ids {
		sig := signals[id]
		terms := append([]string{sig.Name}, sig.Names...)
		terms = append(terms, sig.Keywords...)
		for _, term := range terms {
			t := NormalizeText(term)
			if len(t) < 2 || !strings.Contains(norm, t) {
				continue
			}
			if len(t) > len(best.Signal) {
				best = EntityMatch{Entity: id, Signal: t, Kind: "name"}
			}
		}
	}
	if best.Entity != "" {
		return best
	}

	for _, id := range ids {
		for _, addr := range signals[id].Addresses {
			a := NormalizeText(addr)
			if a != "" && strings.Contains(norm, a) {
				return EntityMatch{Entity: id, Signal: a, Kind: "address"}
			}
		}
	}

	toks := tokens(norm)
	for _, id := range ids {
		aliases := append([]string{id}, signals[id].Aliases...)
		for _, alias := range aliases {
			a := NormalizeText(alias)
			if a != "" && toks[a] {
				return EntityMatch{Entity: id, Signal: a, Kind: "alias"}
			}
		}
	}
	return EntityMatch{}
}

// GuessDocType derives a document type from filename, text and the AI hint.
func GuessDocType(filename, text string, ai *domain.AIClassification, cfg Config) string {
	name := strings.ToLower(filename)
	body := NormalizeText(text)

	for _, dt := range longestFirst(cfg.DocTypeToFunction) {
		key := strings.ToLower(dt)
		if key == "" {
			continue
		}
		if strings.Contains(name, key) || strings.Contains(body, key) {
			return dt
		}
	}

	if textualExtensions[strings.ToLower(filepath.Ext(filename))] {
		for _, dt := range heuristicDocTypes {
			if strings.Contains(body, dt) || strings.Contains(name, dt) {
				return dt
			}
		}
	}

	if ai != nil {
		hint := strings.ToLower(strings.TrimSpace(ai.DocType))
		if lookupFold(cfg.DocTypeToFunction, hint) != "" {
			return hint
		}
		if _, ok := fallbackDocTypeFunctions[hint]; ok {
			return hint
		}
	}
	return ""
}

// FunctionFor maps a doc type to its business function, falling back to
// a keyword scan over the text.
func FunctionFor(docType, text string, cfg Config) string {
	if docType != "" {
		if fn := lookupFold(cfg.DocTypeToFunction, docType); fn != "" {
			return fn
		}
		if fn, ok := fallbackDocTypeFunctions[strings.ToLower(docType)]; ok {
			return fn
		}
	}
	return DetectFunction(text, cfg)
}

func DetectFunction(text string, cfg Config) string {
	body := NormalizeText(text)
	if body == "" {
		return ""
	}
	for _, kw := range longestFirst(cfg.KeywordsToFunction) {
		k := NormalizeText(kw)
		if k != "" && strings.Contains(body, k) {
			return cfg.KeywordsToFunction[kw]
		}
	}
	return ""
}
