package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"llmds/pkg/contract"
)

// Projection: type independent view of one sample.
// Pass-through comparison fields (chosen, rejected, label, completions, labels) are
// set only when the sample carries them.
type Projection struct {
	Prompt     string
	Completion string
	Text       string
	System     string
	Turns      []contract.Turn
	Metadata   map[string]any
	Pass       map[string]any
}

type projector func(spec contract.TypeSpec, s contract.Sample) Projection

// projectors is keyed by dataset type; aliases share their root's projector where
// the field layout matches.
var projectors = map[contract.DatasetType]projector{
	"qa":                  projectQA,
	"squad_qa":            projectQA,
	"indic_qa":            projectQA,
	"instruction":         projectInstruction,
	"alpaca_instruct":     projectInstruction,
	"indic_instruct":      projectInstruction,
	"conversation":        projectDialogue,
	"sharegpt_chat":       projectDialogue,
	"indic_conversation":  projectDialogue,
	"roleplay_scenario":   projectDialogue,
	"summarization":       projectSummary("document", "summary"),
	"news_summarization":  projectSummary("article", "highlights"),
	"classification":      projectClassification,
	"text_classification": projectClassification,
	"parallel_corpora":    projectTranslation,
	"indic_translation":   projectTranslation,
	"chain_of_thought":    projectChainOfThought,
	"function_calling":    projectFunctionCall,
	"code_instruct":       projectCode,
	"preference_pairs":    projectPreference,
}

// Project maps a sample to its projection; unknown types use a best-effort generic view.
func Project(spec contract.TypeSpec, s contract.Sample) Projection {
	p, ok := projectors[spec.Name]
	if !ok {
		p = projectGeneric
	}
	out := p(spec, s)
	if out.Text == "" {
		out.Text = joinNonEmpty("\n\n", out.Prompt, out.Completion)
	}
	return out
}

func projectQA(spec contract.TypeSpec, s contract.Sample) Projection {
	prompt := str(s, "question")
	if ctx := str(s, "context"); ctx != "" {
		prompt = "Context: " + ctx + "\n\nQuestion: " + prompt
	}
	return Projection{Prompt: prompt, Completion: str(s, "answer"), Metadata: metaOf(spec, s)}
}

func projectInstruction(spec contract.TypeSpec, s contract.Sample) Projection {
	prompt := str(s, "instruction")
	if in := str(s, "input"); in != "" {
		prompt += "\n\nInput: " + in
	}
	if c := str(s, "constraints"); c != "" {
		prompt += "\n\nConstraints: " + c
	}
	return Projection{Prompt: prompt, Completion: str(s, "output"), Metadata: metaOf(spec, s)}
}

// projectDialogue splits the transcript at the last assistant turn.
func projectDialogue(spec contract.TypeSpec, s contract.Sample) Projection {
	turns := Turns(s["turns"])
	p := Projection{Turns: turns, System: str(s, "scenario"), Metadata: metaOf(spec, s)}
	last := -1
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == "assistant" {
			last = i
			break
		}
	}
	if last >= 0 {
		p.Prompt = transcript(turns[:last])
		p.Completion = turns[last].Content
	} else {
		p.Prompt = transcript(turns)
	}
	p.Text = transcript(turns)
	if p.System != "" {
		p.Text = p.System + "\n\n" + p.Text
	}
	return p
}

func projectSummary(docField, sumField string) projector {
	return func(spec contract.TypeSpec, s contract.Sample) Projection {
		return Projection{
			Prompt:     "Summarize the following text:\n\n" + str(s, docField),
			Completion: str(s, sumField),
			Metadata:   metaOf(spec, s),
		}
	}
}

func projectClassification(spec contract.TypeSpec, s contract.Sample) Projection {
	return Projection{
		Prompt:     "Classify the following text:\n\n" + str(s, "text"),
		Completion: str(s, "label"),
		Metadata:   metaOf(spec, s, "rationale"),
	}
}

func projectTranslation(spec contract.TypeSpec, s contract.Sample) Projection {
	src, dst := str(s, "source_language"), str(s, "target_language")
	return Projection{
		Prompt:     fmt.Sprintf("Translate from %s to %s:\n\n%s", src, dst, str(s, "source_text")),
		Completion: str(s, "target_text"),
		Metadata:   metaOf(spec, s, "source_language", "target_language"),
	}
}

func projectChainOfThought(spec contract.TypeSpec, s contract.Sample) Projection {
	steps := strs(s["reasoning_steps"])
	var b strings.Builder
	for i, st := range steps {
		fmt.Fprintf(&b, "Step %d: %s\n", i+1, st)
	}
	if a := str(s, "answer"); a != "" {
		b.WriteString("Answer: " + a)
	}
	p := Projection{
		Prompt:     str(s, "question"),
		Completion: strings.TrimSpace(b.String()),
		Metadata:   metaOf(spec, s),
	}
	if len(steps) > 0 {
		p.Pass = map[string]any{"completions": steps}
		if labels, ok := s["labels"]; ok {
			p.Pass["labels"] = labels
		}
	}
	return p
}

func projectFunctionCall(spec contract.TypeSpec, s contract.Sample) Projection {
	prompt := str(s, "instruction")
	if d := str(s, "function_description"); d != "" {
		prompt += "\n\nAvailable function: " + d
	}
	call, _ := json.Marshal(map[string]any{"name": str(s, "function_name"), "arguments": argsOf(s["arguments"])})
	return Projection{
		Prompt:     prompt,
		Completion: joinNonEmpty("\n\n", string(call), str(s, "output")),
		Metadata:   metaOf(spec, s, "function_name"),
	}
}

func projectCode(spec contract.TypeSpec, s contract.Sample) Projection {
	return Projection{
		Prompt:     str(s, "instruction"),
		Completion: joinNonEmpty("\n\n", str(s, "code"), str(s, "explanation")),
		Metadata:   metaOf(spec, s),
	}
}

func projectPreference(spec contract.TypeSpec, s contract.Sample) Projection {
	p := Projection{Prompt: str(s, "prompt"), Completion: str(s, "chosen"), Metadata: metaOf(spec, s)}
	p.Pass = passThrough(s, "chosen", "rejected", "label")
	return p
}

// projectGeneric picks the first present prompt-like and completion-like fields.
func projectGeneric(spec contract.TypeSpec, s contract.Sample) Projection {
	return Projection{
		Prompt:     first(s, "prompt", "question", "instruction", "text", "document", "source_text"),
		Completion: first(s, "completion", "answer", "output", "summary", "label", "target_text"),
		Metadata:   metaOf(spec, s),
		Pass:       passThrough(s, "chosen", "rejected", "label", "completions", "labels"),
	}
}

// metaOf collects the present Meta fields of spec plus extra named fields.
// Returns nil when nothing is present.
func metaOf(spec contract.TypeSpec, s contract.Sample, extra ...string) map[string]any {
	out := map[string]any{}
	for _, f := range spec.Fields {
		if f.Meta {
			if v, ok := present(s, f.Name); ok {
				out[f.Name] = v
			}
		}
	}
	for _, name := range extra {
		if v, ok := present(s, name); ok {
			out[name] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func passThrough(s contract.Sample, names ...string) map[string]any {
	var out map[string]any
	for _, n := range names {
		if v, ok := present(s, n); ok {
			if out == nil {
				out = map[string]any{}
			}
			out[n] = v
		}
	}
	return out
}

func present(s contract.Sample, name string) (any, bool) {
	v, ok := s[name]
	if !ok || v == nil {
		return nil, false
	}
	if sv, isStr := v.(string); isStr && strings.TrimSpace(sv) == "" {
		return nil, false
	}
	return v, true
}

func str(s contract.Sample, name string) string {
	switch v := s[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func first(s contract.Sample, names ...string) string {
	for _, n := range names {
		if v := str(s, n); v != "" {
			return v
		}
	}
	return ""
}

func strs(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, it := range x {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// argsOf decodes JSON-encoded argument strings so the tool call nests an object.
func argsOf(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var obj any
	if err := json.Unmarshal([]byte(s), &obj); err == nil {
		return obj
	}
	return s
}

// Turns reads a turn list from either decoded JSON or typed turns.
func Turns(v any) []contract.Turn {
	switch x := v.(type) {
	case []contract.Turn:
		return x
	case []any:
		out := make([]contract.Turn, 0, len(x))
		for _, it := range x {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			role, _ := m["role"].(string)
			content, _ := m["content"].(string)
			if role == "" || content == "" {
				continue
			}
			out = append(out, contract.Turn{Role: normRole(role), Content: content})
		}
		return out
	}
	return nil
}

// normRole maps ShareGPT style speaker names onto chat roles.
func normRole(r string) string {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "human", "user":
		return "user"
	case "gpt", "assistant", "model", "bot":
		return "assistant"
	case "system":
		return "system"
	default:
		return strings.ToLower(strings.TrimSpace(r))
	}
}

func transcript(turns []contract.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.Role+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}

func joinNonEmpty(sep string, parts ...string) string {
	var keep []string
	for _, p := range parts {
		if p != "" {
			keep = append(keep, p)
		}
	}
	return strings.Join(keep, sep)
}
