package registry

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmds/pkg/contract"
)

func TestStrictUnmarshal(t *testing.T) {
	type opt struct {
		A int `json:"a"`
	}
	var o opt
	require.NoError(t, strictUnmarshal(nil, &o))
	assert.Zero(t, o.A)
	require.NoError(t, strictUnmarshal(json.RawMessage(`{"a":1}`), &o))
	assert.Equal(t, 1, o.A)
	assert.Error(t, strictUnmarshal(json.RawMessage(`{"a":1,"b":2}`), &o))
}

func TestStrictFactories(t *testing.T) {
	unknown := json.RawMessage(`{"x":1}`)
	empty := json.RawMessage(`{}`)

	_, err := Reader["fs"](empty)
	assert.NoError(t, err)
	_, err = Reader["fs"](unknown)
	assert.Error(t, err)

	_, err = Splitter["text"](empty)
	assert.NoError(t, err)
	_, err = Splitter["text"](unknown)
	assert.Error(t, err)

	_, err = Chunker["sliding"](empty)
	assert.NoError(t, err)
	_, err = Chunker["sliding"](unknown)
	assert.Error(t, err)

	_, err = PromptBuilder["dataset"](empty)
	assert.NoError(t, err)
	_, err = PromptBuilder["dataset"](unknown)
	assert.Error(t, err)

	_, err = Decoder["samplejson"](empty)
	assert.NoError(t, err)
	_, err = Decoder["samplejson"](unknown)
	assert.Error(t, err)

	tmp := t.TempDir()
	_, err = Writer["fs"](json.RawMessage(fmt.Sprintf(`{"output_dir":%q}`, tmp)))
	assert.NoError(t, err)
	_, err = Writer["fs"](json.RawMessage(fmt.Sprintf(`{"output_dir":%q,"x":1}`, tmp)))
	assert.Error(t, err)
}

func TestLLMFactories(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	for _, name := range []string{"mock", "flaky", "ollama"} {
		_, err := LLMClient[name](json.RawMessage(`{}`))
		assert.NoError(t, err, name)
	}
	for _, name := range []string{"openai", "gemini"} {
		_, err := LLMClient[name](json.RawMessage(`{}`))
		assert.ErrorIs(t, err, contract.ErrInvalidInput, name)
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"flaky", "gemini", "mock", "ollama", "openai"}, Names(LLMClient))
}
