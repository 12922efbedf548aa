package dataset

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmds/internal/types"
	"llmds/pkg/contract"
)

func request(t *testing.T, name contract.DatasetType) contract.GenerationRequest {
	spec, ok := types.Default().Lookup(name)
	require.True(t, ok)
	return contract.GenerationRequest{
		Chunk: contract.Chunk{FileID: "a.txt", Text: "Go was designed at Google."},
		Type:  spec,
		Count: 3,
	}
}

func TestBuildDefault(t *testing.T) {
	b, err := New(nil)
	require.NoError(t, err)
	p, err := b.Build(context.Background(), request(t, "qa"))
	require.NoError(t, err)
	cp, ok := p.(contract.ChatPrompt)
	require.True(t, ok)
	require.Len(t, cp, 3)
	assert.Contains(t, cp[0].Content, "Target dataset type: qa (legacy)")
	assert.Contains(t, cp[1].Content, "Go was designed at Google.")
	assert.Contains(t, cp[1].Content, "Generate exactly 3 qa samples")
	assert.Contains(t, cp[1].Content, "- question (string, required)")
	assert.Equal(t, contract.RoleJSONSchema, cp[2].Role)
	assert.NotContains(t, cp[1].Content, "Indic")
}

type schemaItems struct {
	Properties map[string]map[string]any `json:"properties"`
	Required   []string                  `json:"required"`
}

func sampleItems(t *testing.T, name string) schemaItems {
	t.Helper()
	spec, ok := types.Default().Lookup(contract.DatasetType(name))
	require.True(t, ok, name)
	s, err := Schema(spec)
	require.NoError(t, err)
	var doc struct {
		Properties struct {
			Samples struct {
				Items schemaItems `json:"items"`
			} `json:"samples"`
		} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal([]byte(s), &doc))
	return doc.Properties.Samples.Items
}

func TestSchemaShape(t *testing.T) {
	cot := sampleItems(t, "chain_of_thought")
	assert.Equal(t, "array", cot.Properties["reasoning_steps"]["type"])
	assert.Equal(t, "string", cot.Properties["difficulty"]["type"])
	assert.NotContains(t, cot.Properties, "confidence")
	assert.ElementsMatch(t, []string{"question", "reasoning_steps", "answer"}, cot.Required)

	qa := sampleItems(t, "qa")
	assert.Equal(t, "number", qa.Properties["confidence"]["type"])
	assert.ElementsMatch(t, []string{"question", "answer"}, qa.Required)
}

func TestBuildLanguages(t *testing.T) {
	b, _ := New(nil)
	req := request(t, "indic_qa")
	req.Lang = contract.LanguageContext{Languages: []string{"Hindi"}}
	p, err := b.Build(context.Background(), req)
	require.NoError(t, err)
	user := p.(contract.ChatPrompt)[1].Content
	assert.Contains(t, user, "Write the samples in: Hindi.")
	assert.Contains(t, user, "Indic language")
}

func TestBuildPlaceholderNote(t *testing.T) {
	b, _ := New(nil)
	req := request(t, "qa")
	req.Chunk.Meta = contract.Meta{contract.MetaPlaceholder: "true"}
	p, err := b.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, p.(contract.ChatPrompt)[1].Content, "no extractable text")
}

func TestBuildInvalid(t *testing.T) {
	b, _ := New(nil)
	req := request(t, "qa")
	req.Chunk.Text = " "
	_, err := b.Build(context.Background(), req)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	req = request(t, "qa")
	req.Count = 0
	_, err = b.Build(context.Background(), req)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	_, err = b.Build(context.Background(), contract.GenerationRequest{Chunk: contract.Chunk{Text: "x"}, Count: 1})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Build(ctx, request(t, "qa"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTemplatesAndGuidelines(t *testing.T) {
	dir := t.TempDir()
	tp := filepath.Join(dir, "sys.tmpl")
	gp := filepath.Join(dir, "g.txt")
	require.NoError(t, os.WriteFile(tp, []byte("SYS {{.Name}}"), 0o644))
	require.NoError(t, os.WriteFile(gp, []byte("be terse\n"), 0o644))

	b, err := New(&Options{SystemTemplatePath: tp, GuidelinesPath: gp})
	require.NoError(t, err)
	p, err := b.Build(context.Background(), request(t, "summarization"))
	require.NoError(t, err)
	sys := p.(contract.ChatPrompt)[0].Content
	assert.True(t, strings.HasPrefix(sys, "SYS summarization"))
	assert.Contains(t, sys, "<guidelines>\nbe terse\n</guidelines>")

	_, err = New(&Options{SystemTemplatePath: filepath.Join(dir, "missing")})
	assert.Error(t, err)
	_, err = New(&Options{InlineSystemTemplate: "{{"})
	assert.Error(t, err)
}

func TestEstimateOverhead(t *testing.T) {
	b, _ := New(nil)
	assert.Zero(t, b.EstimateOverheadTokens(nil))
	n := b.EstimateOverheadTokens(func(s string) int { return len(s) })
	assert.Greater(t, n, len(outputRules))
}
