package generate

import (
	"io"
	"log/slog"
	"strings"
	"text/template"

	poemlet "github.com/Paranoid-AF/poemlet"
	defaults "github.com/Paranoid-AF/poemlet/default"
)

// SystemPrompt is the fixed system message sent ahead of every poem request.
const SystemPrompt = "You are a concise poetry assistant. Only output poem lines."

// PromptData holds the data passed to the prompt template.
type PromptData struct {
	Theme string
	Form  string
	Lines int
}

var defaultPromptTmpl = mustPromptTemplate(defaults.DefaultPrompt)

// mustPromptTemplate parses src and renders it once against sample data,
// panicking if either step fails.
func mustPromptTemplate(src string) *template.Template {
	t, err := template.New("prompt").Option("missingkey=error").Parse(src)
	if err == nil {
		err = t.Execute(io.Discard, PromptData{Theme: "theme", Form: poemlet.DefaultForm, Lines: poemlet.DefaultLines})
	}
	if err != nil {
		panic("poemlet: invalid embedded default_prompt.md: " + err.Error())
	}
	return t
}

// BuildPrompt renders the user instruction for a poem request.
// The form is normalized (trimmed, lower-cased, "free" when empty).
func BuildPrompt(theme, form string, lines int) string {
	data := PromptData{Theme: theme, Form: poemlet.NormalizeForm(form), Lines: lines}
	var buf strings.Builder
	if err := defaultPromptTmpl.Execute(&buf, data); err != nil {
		panic("poemlet: default prompt: " + err.Error())
	}
	return strings.TrimRight(buf.String(), " \t\n")
}

// renderPrompt renders a user-supplied template source, falling back to
// BuildPrompt when the template cannot be parsed or executed.
func renderPrompt(tmplSrc, theme, form string, lines int) string {
	if tmplSrc == "" {
		return BuildPrompt(theme, form, lines)
	}

	t, err := template.New("prompt").Option("missingkey=error").Parse(tmplSrc)
	if err != nil {
		slog.Warn("failed to parse prompt template, falling back to default", "error", err)
		return BuildPrompt(theme, form, lines)
	}

	data := PromptData{Theme: theme, Form: poemlet.NormalizeForm(form), Lines: lines}
	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		slog.Warn("failed to execute prompt template, falling back to default", "error", err)
		return BuildPrompt(theme, form, lines)
	}
	return strings.TrimRight(buf.String(), " \t\n")
}
