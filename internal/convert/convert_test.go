package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmds/internal/types"
	"llmds/pkg/contract"
)

func spec(t *testing.T, name contract.DatasetType) contract.TypeSpec {
	t.Helper()
	s, ok := types.Default().Lookup(name)
	require.True(t, ok)
	return s
}

func noNulls(t *testing.T, rec contract.OutputRecord) {
	t.Helper()
	for k, v := range rec {
		assert.NotNil(t, v, "field %s", k)
	}
}

func TestParseTarget(t *testing.T) {
	tg, err := ParseTarget("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTarget, tg)

	tg, err = ParseTarget("Conversational", "preference")
	require.NoError(t, err)
	assert.Equal(t, Target{Mode: ModeConversational, Shape: ShapePreference}, tg)
	assert.Equal(t, "conversational", tg.String())

	_, err = ParseTarget("chat", "")
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = ParseTarget("", "pairs")
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestPromptCompletionQA(t *testing.T) {
	rec, err := Convert(spec(t, "qa"), contract.Sample{"question": "Q", "answer": "A", "difficulty": "basic"}, DefaultTarget)
	require.NoError(t, err)
	assert.Equal(t, "Q", rec["prompt"])
	assert.Equal(t, "A", rec["completion"])
	assert.Equal(t, map[string]any{"difficulty": "basic"}, rec["metadata"])
	noNulls(t, rec)
}

func TestMetadataOmittedWhenEmpty(t *testing.T) {
	rec, err := Convert(spec(t, "code_instruct"), contract.Sample{"instruction": "Write hello", "code": "print(1)"}, DefaultTarget)
	require.NoError(t, err)
	_, has := rec["metadata"]
	assert.False(t, has)
	assert.Equal(t, "print(1)", rec["completion"])
}

func TestInstructionOptionalFields(t *testing.T) {
	s := spec(t, "instruction")
	rec, err := Convert(s, contract.Sample{"instruction": "Summarize", "output": "Done"}, DefaultTarget)
	require.NoError(t, err)
	assert.Equal(t, "Summarize", rec["prompt"])

	rec, err = Convert(s, contract.Sample{"instruction": "Summarize", "input": "text", "constraints": "short", "output": "Done"}, DefaultTarget)
	require.NoError(t, err)
	assert.Equal(t, "Summarize\n\nInput: text\n\nConstraints: short", rec["prompt"])
}

func TestLanguageModelingAndPromptOnly(t *testing.T) {
	s := spec(t, "summarization")
	sample := contract.Sample{"document": "Long text", "summary": "Short"}
	rec, err := Convert(s, sample, Target{Mode: ModeStandard, Shape: ShapeLanguageModeling})
	require.NoError(t, err)
	assert.Equal(t, contract.OutputRecord{"text": "Summarize the following text:\n\nLong text\n\nShort"}, rec)

	rec, err = Convert(s, sample, Target{Mode: ModeStandard, Shape: ShapePromptOnly})
	require.NoError(t, err)
	assert.Equal(t, contract.OutputRecord{"prompt": "Summarize the following text:\n\nLong text"}, rec)
}

func TestPreferenceNeverFabricated(t *testing.T) {
	pref := Target{Mode: ModeStandard, Shape: ShapePreference}
	rec, err := Convert(spec(t, "qa"), contract.Sample{"question": "Q", "answer": "A"}, pref)
	require.NoError(t, err)
	assert.Equal(t, contract.OutputRecord{"prompt": "Q"}, rec)

	rec, err = Convert(spec(t, "preference_pairs"), contract.Sample{"prompt": "P", "chosen": "good", "rejected": "bad"}, pref)
	require.NoError(t, err)
	assert.Equal(t, contract.OutputRecord{"prompt": "P", "chosen": "good", "rejected": "bad"}, rec)

	un := Target{Mode: ModeStandard, Shape: ShapeUnpairedPreference}
	rec, err = Convert(spec(t, "preference_pairs"), contract.Sample{"prompt": "P", "chosen": "good", "rejected": "bad"}, un)
	require.NoError(t, err)
	_, hasLabel := rec["label"]
	assert.False(t, hasLabel)
	assert.Equal(t, "good", rec["completion"])
}

func TestStepwise(t *testing.T) {
	step := Target{Mode: ModeStandard, Shape: ShapeStepwise}
	rec, err := Convert(spec(t, "chain_of_thought"), contract.Sample{
		"question":        "2+2?",
		"reasoning_steps": []any{"two plus two", "is four"},
		"answer":          "4",
	}, step)
	require.NoError(t, err)
	assert.Equal(t, "2+2?", rec["prompt"])
	assert.Equal(t, []string{"two plus two", "is four"}, rec["completions"])
	_, hasLabels := rec["labels"]
	assert.False(t, hasLabels)

	rec, err = Convert(spec(t, "chain_of_thought"), contract.Sample{"question": "Q", "reasoning_steps": []any{"s"}, "answer": "A"}, DefaultTarget)
	require.NoError(t, err)
	assert.Equal(t, "Step 1: s\nAnswer: A", rec["completion"])

	rec, err = Convert(spec(t, "qa"), contract.Sample{"question": "Q", "answer": "A"}, step)
	require.NoError(t, err)
	assert.Equal(t, contract.OutputRecord{"prompt": "Q"}, rec)
}

func TestConversationalScenario(t *testing.T) {
	conv := Target{Mode: ModeConversational}
	rec, err := Convert(spec(t, "roleplay_scenario"), contract.Sample{
		"scenario": "You are a librarian.",
		"turns": []any{
			map[string]any{"role": "user", "content": "Hi"},
			map[string]any{"role": "assistant", "content": "Hello"},
		},
	}, conv)
	require.NoError(t, err)
	msgs := rec["messages"].([]contract.Turn)
	require.Len(t, msgs, 3)
	assert.Equal(t, contract.Turn{Role: "system", Content: "You are a librarian."}, msgs[0])
	assert.Equal(t, "assistant", msgs[2].Role)

	rec, err = Convert(spec(t, "qa"), contract.Sample{"question": "Q", "answer": "A"}, conv)
	require.NoError(t, err)
	assert.Equal(t, []contract.Turn{{Role: "user", Content: "Q"}, {Role: "assistant", Content: "A"}}, rec["messages"])
}

func TestDialoguePromptCompletion(t *testing.T) {
	rec, err := Convert(spec(t, "sharegpt_chat"), contract.Sample{
		"turns": []any{
			map[string]any{"role": "human", "content": "Hi"},
			map[string]any{"role": "gpt", "content": "Hello"},
			map[string]any{"role": "human", "content": "Bye"},
		},
	}, DefaultTarget)
	require.NoError(t, err)
	assert.Equal(t, "user: Hi", rec["prompt"])
	assert.Equal(t, "Hello", rec["completion"])
}

func TestTranslationAndFunctionCall(t *testing.T) {
	rec, err := Convert(spec(t, "indic_translation"), contract.Sample{
		"source_text": "Hello", "target_text": "नमस्ते", "source_language": "en", "target_language": "hi",
	}, DefaultTarget)
	require.NoError(t, err)
	assert.Equal(t, "Translate from en to hi:\n\nHello", rec["prompt"])
	assert.Equal(t, map[string]any{"source_language": "en", "target_language": "hi"}, rec["metadata"])

	rec, err = Convert(spec(t, "function_calling"), contract.Sample{
		"instruction": "Weather in Paris?", "function_name": "get_weather",
		"arguments": `{"city":"Paris"}`, "output": "Sunny",
	}, DefaultTarget)
	require.NoError(t, err)
	assert.Equal(t, `{"arguments":{"city":"Paris"},"name":"get_weather"}`+"\n\nSunny", rec["completion"])
}

func TestEveryBuiltinTypeHasProjector(t *testing.T) {
	for _, s := range types.Default().Types() {
		_, ok := projectors[s.Name]
		assert.True(t, ok, "%s", s.Name)
	}
}

func TestConvertAllSkipsUnconvertible(t *testing.T) {
	recs, skipped := ConvertAll(spec(t, "qa"), []contract.Sample{
		{"question": "Q", "answer": "A"},
		nil,
		{"answer": "orphan"},
	}, DefaultTarget)
	assert.Len(t, recs, 1)
	assert.Equal(t, 2, skipped)
}

func TestGenericProjection(t *testing.T) {
	custom := contract.TypeSpec{Name: "custom", Category: contract.CategoryModern}
	rec, err := Convert(custom, contract.Sample{"prompt": "P", "completion": "C"}, DefaultTarget)
	require.NoError(t, err)
	assert.Equal(t, contract.OutputRecord{"prompt": "P", "completion": "C"}, rec)
}
