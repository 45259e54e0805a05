package ollama

import (
	"strings"
	"unicode/utf8"
)

const maxPromptSnippet = 2000

func buildClassificationPrompt(filename, text string) string {
	snippet := strings.TrimSpace(text)
	if utf8.RuneCountInString(snippet) > maxPromptSnippet {
		snippet = string([]rune(snippet)[:maxPromptSnippet])
	}

	return `Classify this document. Respond with valid JSON only.

VALID DEPARTMENTS (pick exactly one):
- CFO (finance: invoices, bills, receipts, insurance, payments)
- CLO (legal: contracts, agreements, NDAs)
- CMO (marketing: brochures, campaigns, press)
- CTO (technology: specs, code, APIs, technical docs)
- COO (operations: shipping, inventory, logistics)
- CSO (security: audits, compliance, risk)
- EXEC (executive or unknown)

Filename: ` + filename + `
Text snippet:
` + snippet + `

Respond ONLY with this JSON structure:
{"doc_type":"<type>","department":"<CFO|CLO|CMO|CTO|COO|CSO|EXEC>","confidence":<0-100>,"reasoning":"<one sentence>"}`
}
