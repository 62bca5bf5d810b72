package rag

import "regexp"

// RedactionMarker replaces every sensitive match.
const RedactionMarker = "[REDACTED]"

// Applied in order. SSNs must run before phone numbers so the narrower
// shape wins.
var sensitivePatterns = []*regexp.Regexp{
	// No trailing word boundary: "a@b.io_" must still lose its address.
	regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`(?i)OPENAI_API_KEY`),
	regexp.MustCompile(`(?i)JWT_SECRET`),
	regexp.MustCompile(`(?i)DATABASE_URL`),
	regexp.MustCompile(`(?i)BUILT_IN_FORGE_API_KEY`),
	regexp.MustCompile(`(?i)password`),
	regexp.MustCompile(`(?i)secret`),
	regexp.MustCompile(`(?i)token`),
}

// Redact scrubs emails, phone and SSN shaped numbers, API keys and
// credential keywords from text. It is pure and idempotent.
func Redact(text string) string {
	if text == "" {
		return text
	}
	for _, pattern := range sensitivePatterns {
		text = pattern.ReplaceAllLiteralString(text, RedactionMarker)
	}
	return text
}
