package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"

	"llmds/pkg/contract"
)

// Options configures the dataset PromptBuilder.
// InlineSystemTemplate and SystemTemplatePath are alternatives; both empty means the
// built-in template. The template sees {{.Name}}, {{.Category}} and {{.Description}}.
type Options struct {
	InlineSystemTemplate string `json:"inline_system_template"`
	SystemTemplatePath   string `json:"system_template_path"`
	// Extra guidelines appended to the system prompt (inline wins over path).
	InlineGuidelines string `json:"inline_guidelines"`
	GuidelinesPath   string `json:"guidelines_path"`
}

// Builder renders one ChatPrompt (system, user, json_schema) per generation request.
// Templates and guidelines are loaded at construction; Build does no I/O.
type Builder struct {
	sysT *template.Template
	glns string
}

// IndicLanguages are suggested when Indic output is requested.
var IndicLanguages = []string{"Hindi", "Bengali", "Tamil", "Telugu", "Marathi", "Gujarati", "Kannada", "Malayalam"}

// New creates the dataset PromptBuilder.
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	src := defaultSystemTemplate
	if o.InlineSystemTemplate != "" {
		src = o.InlineSystemTemplate
	} else if o.SystemTemplatePath != "" {
		b, err := os.ReadFile(o.SystemTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("system template read: %w", err)
		}
		src = string(b)
	}
	tpl, err := template.New("system").Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("system template parse: %w", err)
	}
	glns := o.InlineGuidelines
	if glns == "" && o.GuidelinesPath != "" {
		b, err := os.ReadFile(o.GuidelinesPath)
		if err != nil {
			return nil, fmt.Errorf("guidelines read: %w", err)
		}
		glns = string(b)
	}
	return &Builder{sysT: tpl, glns: strings.TrimSpace(glns)}, nil
}

type sysData struct {
	Name        string
	Category    string
	Description string
}

// Build renders the prompt for req.
func (b *Builder) Build(ctx context.Context, req contract.GenerationRequest) (contract.Prompt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Type.Name == "" || len(req.Type.Fields) == 0 {
		return nil, fmt.Errorf("prompt: %w: type without fields", contract.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Chunk.Text) == "" {
		return nil, fmt.Errorf("prompt: %w: empty chunk", contract.ErrInvalidInput)
	}
	if req.Count <= 0 {
		return nil, fmt.Errorf("prompt: %w: sample count must be > 0", contract.ErrInvalidInput)
	}
	sys, err := b.system(sysData{
		Name:        string(req.Type.Name),
		Category:    string(req.Type.Category),
		Description: req.Type.Description,
	})
	if err != nil {
		return nil, err
	}
	schema, err := Schema(req.Type)
	if err != nil {
		return nil, err
	}

	var uw strings.Builder
	uw.Grow(len(req.Chunk.Text) + 512)
	uw.WriteString("### Passage\n\n<passage>\n")
	uw.WriteString(req.Chunk.Text)
	uw.WriteString("\n</passage>\n")
	if req.Chunk.Placeholder() {
		uw.WriteString("\nNOTE: the source file had no extractable text. Produce generic samples about the document's likely topic.\n")
	}
	uw.WriteString("\n### Task\n\n")
	fmt.Fprintf(&uw, "Generate exactly %d %s samples from the passage.\n", req.Count, req.Type.Name)
	uw.WriteString("Fields:\n")
	for _, f := range req.Type.Fields {
		need := "optional"
		if f.Required {
			need = "required"
		}
		fmt.Fprintf(&uw, "- %s (%s, %s)\n", f.Name, f.Kind, need)
	}
	if lang := languageLine(req.Type, req.Lang); lang != "" {
		uw.WriteString(lang)
		uw.WriteByte('\n')
	}
	uw.WriteString(outputRules)

	return contract.ChatPrompt{
		{Role: "system", Content: sys},
		{Role: "user", Content: uw.String()},
		{Role: contract.RoleJSONSchema, Content: schema},
	}, nil
}

// EstimateOverheadTokens estimates the request independent part: system text,
// guidelines and the fixed output rules. Passage and schema vary per request.
func (b *Builder) EstimateOverheadTokens(estimate contract.TokenEstimator) int {
	if estimate == nil {
		return 0
	}
	sys, _ := b.system(sysData{})
	return estimate(sys) + estimate("### Passage\n\n<passage>\n\n</passage>\n\n### Task\n\n") + estimate(outputRules)
}

func (b *Builder) system(d sysData) (string, error) {
	var buf bytes.Buffer
	if err := b.sysT.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("system render: %w: %v", contract.ErrInvalidInput, err)
	}
	sys := buf.String()
	if b.glns != "" {
		sys += "\n\n<guidelines>\n" + b.glns + "\n</guidelines>"
	}
	return sys, nil
}

func languageLine(t contract.TypeSpec, lang contract.LanguageContext) string {
	var parts []string
	if len(lang.Languages) > 0 {
		parts = append(parts, "Write the samples in: "+strings.Join(lang.Languages, ", ")+".")
	}
	if t.Category == contract.CategoryIndic || lang.IncludeIndic {
		parts = append(parts, "Use an Indic language such as "+strings.Join(IndicLanguages, ", ")+" and set the language field accordingly.")
	}
	return strings.Join(parts, " ")
}

// Schema returns the JSON schema of the response envelope {"samples":[...]} for t.
func Schema(t contract.TypeSpec) (string, error) {
	props := make(map[string]any, len(t.Fields))
	var required []string
	for _, f := range t.Fields {
		props[f.Name] = kindSchema(f.Kind)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	item := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		item["required"] = required
	}
	env := map[string]any{
		"type":       "object",
		"properties": map[string]any{"samples": map[string]any{"type": "array", "items": item}},
		"required":   []string{"samples"},
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func kindSchema(k contract.FieldKind) map[string]any {
	switch k {
	case contract.KindNumber:
		return map[string]any{"type": "number"}
	case contract.KindStrings:
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	case contract.KindTurns:
		return map[string]any{"type": "array", "items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"role":    map[string]any{"type": "string", "enum": []string{"system", "user", "assistant"}},
				"content": map[string]any{"type": "string"},
			},
			"required": []string{"role", "content"},
		}}
	default:
		return map[string]any{"type": "string"}
	}
}

const outputRules = `
IMPORTANT OUTPUT RULES:
1) Ground every sample in the passage; do not invent facts it does not support.
2) Return ONLY strict JSON (no markdown, no code fences, no commentary).
3) Shape: {"samples": [ ... ]} with one object per sample using the field names above.
`

const defaultSystemTemplate = `## Role Definition
You are a dataset engineer producing high quality supervised fine-tuning data.
{{if .Name}}Target dataset type: {{.Name}} ({{.Category}}). {{.Description}}{{end}}

## Principles
- Samples must be self-contained: a reader without the passage understands them.
- Vary phrasing and difficulty across samples; avoid near duplicates.
- Keep factual content faithful to the passage.
`

var _ contract.PromptBuilder = (*Builder)(nil)
