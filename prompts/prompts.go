package prompts

import (
	_ "embed"
	"strings"
)

// Embedded prompt files

//go:embed oracle_system.txt
var oracleSystem string

//go:embed refusal.txt
var refusal string

//go:embed no_context.txt
var noContext string

//go:embed fallback.txt
var fallback string

//go:embed not_configured.txt
var notConfigured string

//go:embed empty_reading.txt
var emptyReading string

// Set holds the oracle's prompts and canned replies with names filled in.
type Set struct {
	System        string
	Refusal       string
	NoContext     string
	Fallback      string
	NotConfigured string
	EmptyReading  string
	ContextHeader string
}

// New renders every prompt for the given subject and oracle names.
func New(subject, oracle string) Set {
	r := strings.NewReplacer("{{SUBJECT}}", subject, "{{ORACLE}}", oracle)
	refusalText := r.Replace(strings.TrimSpace(refusal))
	withRefusal := strings.NewReplacer("{{REFUSAL}}", refusalText)

	return Set{
		System:        withRefusal.Replace(r.Replace(strings.TrimSpace(oracleSystem))),
		Refusal:       refusalText,
		NoContext:     withRefusal.Replace(r.Replace(strings.TrimSpace(noContext))),
		Fallback:      strings.TrimSpace(fallback),
		NotConfigured: strings.TrimSpace(notConfigured),
		EmptyReading:  strings.TrimSpace(emptyReading),
		ContextHeader: "CONTEXT ABOUT " + strings.ToUpper(subject) + ":",
	}
}
