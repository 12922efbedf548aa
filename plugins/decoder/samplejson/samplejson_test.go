package samplejson

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmds/internal/types"
	"llmds/pkg/contract"
)

func qaReq(t *testing.T) contract.GenerationRequest {
	spec, ok := types.Default().Lookup("qa")
	require.True(t, ok)
	return contract.GenerationRequest{Type: spec, Count: 3}
}

func decode(t *testing.T, raw json.RawMessage, text string) ([]contract.Sample, error) {
	d, err := New(raw)
	require.NoError(t, err)
	return d.Decode(context.Background(), qaReq(t), contract.Raw{Text: text})
}

func TestDecodeShapes(t *testing.T) {
	cases := map[string]string{
		"envelope":   `{"samples":[{"question":"q","answer":"a"}]}`,
		"type key":   `{"qa":[{"question":"q","answer":"a"}]}`,
		"bare":       `[{"question":"q","answer":"a"}]`,
		"single":     `{"question":"q","answer":"a"}`,
		"fenced":     "```json\n{\"samples\":[{\"question\":\"q\",\"answer\":\"a\"}]}\n```",
		"preamble":   "Here you go:\n[{\"question\":\"q\",\"answer\":\"a\"}]",
		"bare fence": "```\n[{\"question\":\"q\",\"answer\":\"a\"}]\n```",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := decode(t, nil, text)
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, "q", out[0]["question"])
		})
	}
}

func TestDecodeDropsInvalid(t *testing.T) {
	text := `{"samples":[{"question":"q","answer":"a"},{"question":"q2"},"oops"]}`
	out, err := decode(t, nil, text)
	require.NoError(t, err)
	assert.Len(t, out, 1)

	_, err = decode(t, json.RawMessage(`{"strict":true}`), text)
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
}

func TestDecodeInvalid(t *testing.T) {
	for _, text := range []string{"", "not json", `{"samples":[{"question":"q"}]}`, `{"samples":"x"}`, `42`, `[]`} {
		_, err := decode(t, nil, text)
		assert.ErrorIs(t, err, contract.ErrResponseInvalid, text)
	}
}

func TestDecodeEnvelopeOption(t *testing.T) {
	out, err := decode(t, json.RawMessage(`{"envelope":"data"}`), `{"data":[{"question":"q","answer":"a"}]}`)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestNewRejectsUnknownOption(t *testing.T) {
	_, err := New(json.RawMessage(`{"x":1}`))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestDecodeCancel(t *testing.T) {
	d, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Decode(ctx, qaReq(t), contract.Raw{Text: "[]"})
	assert.ErrorIs(t, err, context.Canceled)
}
