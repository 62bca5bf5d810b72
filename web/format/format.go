package format

import (
	"strings"
)

// RuleWidth is the width of section separators in assembled site text.
const RuleWidth = 70

// Rule returns a separator line of ch.
func Rule(ch rune) string {
	return strings.Repeat(string(ch), RuleWidth)
}

// Section is a titled block of plain text.
type Section struct {
	b strings.Builder
}

// NewSection starts a section with an upper-cased title and a '=' rule.
func NewSection(title string) *Section {
	s := &Section{}
	s.b.WriteString(strings.ToUpper(title))
	s.b.WriteString(":\n")
	s.b.WriteString(Rule('='))
	s.b.WriteString("\n\n")
	return s
}

// Field writes "Label: value" and skips empty values.
func (s *Section) Field(label, value string) *Section {
	if strings.TrimSpace(value) == "" {
		return s
	}
	s.b.WriteString(label)
	s.b.WriteString(": ")
	s.b.WriteString(value)
	s.b.WriteByte('\n')
	return s
}

// Block writes a labeled multi-line block followed by a blank line.
func (s *Section) Block(label, body string) *Section {
	if strings.TrimSpace(body) == "" {
		return s
	}
	s.b.WriteString(strings.ToUpper(label))
	s.b.WriteString(":\n")
	s.b.WriteString(strings.TrimSpace(body))
	s.b.WriteString("\n\n")
	return s
}

// Bullets writes a labeled "- item" list followed by a blank line.
func (s *Section) Bullets(label string, items []string) *Section {
	if len(items) == 0 {
		return s
	}
	s.b.WriteString(strings.ToUpper(label))
	s.b.WriteString(":\n")
	for _, item := range items {
		s.b.WriteString("- ")
		s.b.WriteString(item)
		s.b.WriteByte('\n')
	}
	s.b.WriteByte('\n')
	return s
}

// Text writes raw text followed by a blank line.
func (s *Section) Text(text string) *Section {
	if strings.TrimSpace(text) == "" {
		return s
	}
	s.b.WriteString(strings.TrimSpace(text))
	s.b.WriteString("\n\n")
	return s
}

// Break writes a '-' rule between entries.
func (s *Section) Break() *Section {
	s.b.WriteString(Rule('-'))
	s.b.WriteString("\n\n")
	return s
}

func (s *Section) String() string {
	return s.b.String()
}
