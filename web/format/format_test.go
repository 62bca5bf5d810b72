package format

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdownToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "  ", want: ""},
		{name: "heading and emphasis", in: "# Title\n\nSome *emphasis* and **bold**.", want: "Title\n\nSome emphasis and bold."},
		{name: "links keep text", in: "See [my site](https://example.com).", want: "See my site."},
		{name: "code blocks dropped", in: "Before\n\n```\nsecret code\n```\n\nAfter", want: "Before\n\nAfter"},
		{name: "list items", in: "- Go\n- Kafka", want: "Go\n\nKafka"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MarkdownToText(tt.in))
		})
	}
}

func TestCleanPlainText(t *testing.T) {
	in := "  first\t\tline  \r\n\r\n\r\n\r\nsecond   line\n"
	assert.Equal(t, "first line\n\nsecond line", CleanPlainText(in))
}

func TestPreprocessAssistantText(t *testing.T) {
	assert.Equal(t, "\"quoted\" and 'single'", PreprocessAssistantText("  “quoted” and ‘single’ "))
	assert.Equal(t, "", PreprocessAssistantText(""))
}

func TestSection(t *testing.T) {
	got := NewSection("Projects").
		Field("PROJECT", "Oracle").
		Field("Category", "").
		Block("Description", " Answers questions. ").
		Bullets("Technologies", []string{"Go", "Postgres"}).
		Bullets("Results", nil).
		Break().
		String()

	want := "PROJECTS:\n" + Rule('=') + "\n\n" +
		"PROJECT: Oracle\n" +
		"DESCRIPTION:\nAnswers questions.\n\n" +
		"TECHNOLOGIES:\n- Go\n- Postgres\n\n" +
		Rule('-') + "\n\n"
	assert.Equal(t, want, got)
	assert.Equal(t, RuleWidth, len(Rule('=')))
	assert.False(t, strings.Contains(got, "Category"))
}
