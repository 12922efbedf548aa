package types

import (
	"strings"

	"llmds/pkg/contract"
)

// Normalize fills missing optional fields of s with the type's defaults and infers
// instruction_type where the type declares it. Required fields are never invented.
// The input sample is not modified.
func Normalize(spec contract.TypeSpec, s contract.Sample) contract.Sample {
	out := s.Clone()
	if out == nil {
		out = contract.Sample{}
	}
	for _, f := range spec.Fields {
		if f.Required {
			continue
		}
		if v, ok := out[f.Name]; ok && !blank(v) {
			continue
		}
		switch {
		case f.Default != nil:
			out[f.Name] = f.Default
		case f.Name == "instruction_type":
			if it := InferInstructionType(str(out["instruction"])); it != "" {
				out[f.Name] = it
			}
		default:
			// absent stays absent
			if v, ok := out[f.Name]; ok && blank(v) {
				delete(out, f.Name)
			}
		}
	}
	return out
}

func blank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	return false
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// instructionVerbs maps leading verbs to an instruction category; first match wins.
var instructionVerbs = []struct {
	kind  string
	verbs []string
}{
	{"summarization", []string{"summarize", "summarise", "condense"}},
	{"translation", []string{"translate"}},
	{"classification", []string{"classify", "categorize", "label"}},
	{"extraction", []string{"extract", "list", "identify", "find"}},
	{"rewriting", []string{"rewrite", "rephrase", "paraphrase", "edit"}},
	{"explanation", []string{"explain", "describe", "why", "how"}},
	{"generation", []string{"write", "generate", "create", "compose", "draft"}},
	{"question_answering", []string{"what", "who", "when", "where", "which", "answer"}},
}

// InferInstructionType guesses a coarse instruction category from the leading word.
// Empty input yields "", anything unmatched is "general".
func InferInstructionType(instruction string) string {
	fields := strings.Fields(strings.ToLower(instruction))
	if len(fields) == 0 {
		return ""
	}
	first := strings.Trim(fields[0], ".,:;!?\"'")
	for _, iv := range instructionVerbs {
		for _, v := range iv.verbs {
			if first == v {
				return iv.kind
			}
		}
	}
	return "general"
}
