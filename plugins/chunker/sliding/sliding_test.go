package sliding

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmds/pkg/contract"
)

func recs(texts ...string) []contract.Record {
	out := make([]contract.Record, len(texts))
	for i, s := range texts {
		out[i] = contract.Record{Index: contract.Index(i), FileID: "f", Text: s}
	}
	return out
}

func TestMakePacksUnderBudget(t *testing.T) {
	c := New(&Options{BytesPerToken: 1, Separator: "|"})
	chunks, err := c.Make(context.Background(), recs("aa", "bb", "cc"), contract.ChunkLimit{MaxTokens: 5})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "aa|bb", chunks[0].Text)
	assert.Equal(t, contract.Index(0), chunks[0].From)
	assert.Equal(t, contract.Index(1), chunks[0].To)
	assert.Equal(t, "cc", chunks[1].Text)
	assert.Equal(t, contract.Index(1), chunks[1].Index)
	assert.Equal(t, contract.Index(2), chunks[1].From)
}

func TestMakeSingleChunk(t *testing.T) {
	chunks, err := New(nil).Make(context.Background(), recs("one", "two"), contract.ChunkLimit{MaxTokens: 1000})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "one\n\ntwo", chunks[0].Text)
}

func TestMakeOverlap(t *testing.T) {
	c := New(&Options{BytesPerToken: 1, Separator: " ", OverlapRecords: 1})
	chunks, err := c.Make(context.Background(), recs("a", "b", "c", "d"), contract.ChunkLimit{MaxTokens: 3})
	require.NoError(t, err)
	var texts []string
	for _, ch := range chunks {
		texts = append(texts, ch.Text)
	}
	assert.Equal(t, []string{"a b", "b c", "c d"}, texts)
}

func TestMakeOverlapAlwaysAdvances(t *testing.T) {
	c := New(&Options{BytesPerToken: 1, OverlapRecords: 5})
	chunks, err := c.Make(context.Background(), recs("aaaa", "bbbb", "cccc"), contract.ChunkLimit{MaxTokens: 4})
	require.NoError(t, err)
	assert.Len(t, chunks, 3)
}

func TestMakeSplitsOversizedRecord(t *testing.T) {
	c := New(&Options{BytesPerToken: 1})
	long := strings.Repeat("word ", 10)
	chunks, err := c.Make(context.Background(), recs(long), contract.ChunkLimit{MaxTokens: 9})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Text), 9)
		assert.Equal(t, contract.Index(0), ch.From)
	}
}

func TestMakeCarriesPlaceholder(t *testing.T) {
	r := recs("[no text]")
	r[0].Meta = contract.Meta{contract.MetaPlaceholder: "true"}
	chunks, err := New(nil).Make(context.Background(), r, contract.ChunkLimit{MaxTokens: 100})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Placeholder())
}

func TestMakeEstimator(t *testing.T) {
	words := func(s string) int { return len(strings.Fields(s)) }
	c := New(nil).WithEstimator(words)
	chunks, err := c.Make(context.Background(), recs("a b", "c d", "e"), contract.ChunkLimit{MaxTokens: 4})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "e", chunks[1].Text)
}

func TestMakeValidation(t *testing.T) {
	ctx := context.Background()
	_, err := New(nil).Make(ctx, recs("a"), contract.ChunkLimit{})
	assert.Error(t, err)

	bad := recs("a", "b")
	bad[1].FileID = "g"
	_, err = New(nil).Make(ctx, bad, contract.ChunkLimit{MaxTokens: 10})
	assert.Error(t, err)

	gap := recs("a", "b")
	gap[1].Index = 3
	_, err = New(nil).Make(ctx, gap, contract.ChunkLimit{MaxTokens: 10})
	assert.Error(t, err)

	chunks, err := New(nil).Make(ctx, nil, contract.ChunkLimit{MaxTokens: 10})
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = New(nil).Make(ctx, recs("  ", ""), contract.ChunkLimit{MaxTokens: 10})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestMakeCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Make(ctx, recs("a"), contract.ChunkLimit{MaxTokens: 10})
	assert.ErrorIs(t, err, context.Canceled)
}
