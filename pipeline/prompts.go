package pipeline

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/*.md
var promptsFS embed.FS

// Prompts holds the prompt templates used by the stages.
type Prompts struct {
	System    string
	templates *template.Template
}

// LoadPrompts parses the embedded prompt templates.
func LoadPrompts() (*Prompts, error) {
	system, err := promptsFS.ReadFile("prompts/SYSTEM.md")
	if err != nil {
		return nil, fmt.Errorf("failed to read SYSTEM: %w", err)
	}
	tmpl, err := template.New("prompts").Funcs(template.FuncMap{
		"inc":  func(i int) int { return i + 1 },
		"join": strings.Join,
	}).ParseFS(promptsFS, "prompts/*.md")
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompts: %w", err)
	}
	return &Prompts{System: strings.TrimSpace(string(system)), templates: tmpl}, nil
}

// MustLoadPrompts is like LoadPrompts but panics on error. The templates are
// embedded, so an error is a build defect.
func MustLoadPrompts() *Prompts {
	p, err := LoadPrompts()
	if err != nil {
		panic(err)
	}
	return p
}

// Render executes the named template, e.g. "PLAN.md".
func (p *Prompts) Render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := p.templates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return strings.TrimSpace(sb.String()), nil
}
