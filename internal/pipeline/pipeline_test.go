package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmds/internal/checkpoint"
	"llmds/internal/convert"
	"llmds/internal/diag"
	"llmds/pkg/contract"
	"llmds/plugins/chunker/sliding"
	"llmds/plugins/decoder/samplejson"
	"llmds/plugins/llmclient/mock"
	"llmds/plugins/prompt/dataset"
	rfs "llmds/plugins/reader/filesystem"
	"llmds/plugins/splitter/text"
	wfs "llmds/plugins/writer/filesystem"
)

const passage = "The river rises in the northern hills and flows south for two hundred kilometres.\n\n" +
	"Several towns grew along its banks because the water supported farming and trade."

func components(t *testing.T, out, mode string) Components {
	t.Helper()
	pb, err := dataset.New(nil)
	require.NoError(t, err)
	llm, err := mock.New(json.RawMessage(fmt.Sprintf(`{"response_mode":%q}`, mode)))
	require.NoError(t, err)
	dec, err := samplejson.New(nil)
	require.NoError(t, err)
	w, err := wfs.New(&wfs.Options{OutputDir: out})
	require.NoError(t, err)
	return Components{
		Reader:        rfs.New(nil),
		Splitter:      text.New(nil),
		Chunker:       sliding.New(nil),
		PromptBuilder: pb,
		LLM:           llm,
		Decoder:       dec,
		Writer:        w,
	}
}

func settings(in, out string, types ...string) Settings {
	return Settings{
		Inputs:      []string{in},
		OutputDir:   out,
		Concurrency: 2,
		Samples:     2,
		MaxTokens:   4000,
		Types:       types,
		Format:      "jsonl",
		Target:      convert.DefaultTarget,
	}
}

func inputDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range ents {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func readJSONL(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestRunWritesOneArtifactPerType(t *testing.T) {
	in := inputDir(t, map[string]string{"alpha.txt": passage, "beta.txt": passage, "notes.json": `{"skip":true}`})
	out := t.TempDir()

	sum, err := Run(context.Background(), components(t, out, ""), settings(in, out, "qa", "instruction"), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Files)
	assert.Equal(t, 2, sum.Chunks)
	// the implicit legacy category runs all six legacy types
	assert.Equal(t, sum.Chunks*6, sum.Invocations)
	assert.Zero(t, sum.Failures)
	assert.Equal(t, 8, sum.Records)
	assert.Len(t, sum.Artifacts, 4)
	assert.Equal(t, []string{"alpha_instruction.jsonl", "alpha_qa.jsonl", "beta_instruction.jsonl", "beta_qa.jsonl"}, listDir(t, out))

	recs := readJSONL(t, filepath.Join(out, "alpha_qa.jsonl"))
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.NotEmpty(t, r["prompt"])
		assert.NotEmpty(t, r["completion"])
	}
}

func TestRunNoContentFiles(t *testing.T) {
	out := t.TempDir()
	for name, files := range map[string]map[string]string{
		"empty dir": {},
		"json only": {"data.json": `[]`},
	} {
		t.Run(name, func(t *testing.T) {
			in := inputDir(t, files)
			_, err := Run(context.Background(), components(t, out, ""), settings(in, out, "qa"), nil)
			assert.ErrorIs(t, err, contract.ErrNoContent)
		})
	}
}

func TestRunUnreadableRootIsFatal(t *testing.T) {
	out := t.TempDir()
	_, err := Run(context.Background(), components(t, out, ""), settings(filepath.Join(out, "missing"), out, "qa"), nil)
	require.Error(t, err)
}

func TestRunInvalidResponsesWriteNothing(t *testing.T) {
	in := inputDir(t, map[string]string{"doc.txt": passage})
	out := t.TempDir()

	sum, err := Run(context.Background(), components(t, out, mock.ModeInvalid), settings(in, out, "qa", "summarization"), nil)
	require.NoError(t, err)
	assert.Equal(t, sum.Invocations, sum.Failures)
	assert.Empty(t, sum.Artifacts)
	assert.Empty(t, listDir(t, out))
}

func TestRunImplicitLegacyDoesNotWidenOutput(t *testing.T) {
	in := inputDir(t, map[string]string{"doc.txt": passage})
	out := t.TempDir()

	sum, err := Run(context.Background(), components(t, out, ""), settings(in, out, "parallel_corpora"), nil)
	require.NoError(t, err)
	// the implicit legacy category runs all six legacy types
	assert.Equal(t, sum.Chunks*6, sum.Invocations)
	assert.Equal(t, []string{"doc_parallel_corpora.jsonl"}, listDir(t, out))
}

func TestRunModeUnionWithExplicitTypes(t *testing.T) {
	in := inputDir(t, map[string]string{"doc.txt": passage})
	out := t.TempDir()
	set := settings(in, out, "qa", "nonsense_type")
	set.Mode = "standard"

	sum, err := Run(context.Background(), components(t, out, ""), set, nil)
	require.NoError(t, err)
	assert.Equal(t, sum.Chunks*6, sum.Invocations)
	assert.Equal(t, []string{
		"doc_alpaca_instruct.jsonl", "doc_news_summarization.jsonl", "doc_qa.jsonl",
		"doc_sharegpt_chat.jsonl", "doc_squad_qa.jsonl", "doc_text_classification.jsonl",
	}, listDir(t, out))
}

func TestRunPlaceholderFormat(t *testing.T) {
	in := inputDir(t, map[string]string{"doc.txt": passage})
	out := t.TempDir()
	set := settings(in, out, "qa")
	set.Format = "parquet"

	sum, err := Run(context.Background(), components(t, out, ""), set, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(out, "doc_qa.json")}, sum.Artifacts)
	assert.Equal(t, []string{"doc_qa.json", "doc_qa_parquet_conversion.txt"}, listDir(t, out))
}

func TestRunBudgetExceeded(t *testing.T) {
	in := inputDir(t, map[string]string{"doc.txt": passage})
	out := t.TempDir()
	set := settings(in, out, "qa")
	set.MaxTokens = 10

	_, err := Run(context.Background(), components(t, out, ""), set, nil)
	assert.ErrorIs(t, err, contract.ErrBudgetExceeded)
}

func TestRunUnknownTypeIgnored(t *testing.T) {
	in := inputDir(t, map[string]string{"doc.txt": passage})
	out := t.TempDir()

	// the implicit legacy category still runs but requests no output
	sum, err := Run(context.Background(), components(t, out, ""), settings(in, out, "unknown"), nil)
	require.NoError(t, err)
	assert.Equal(t, sum.Chunks*6, sum.Invocations)
	assert.Empty(t, listDir(t, out))
}

type noChunks struct{}

func (noChunks) Make(context.Context, []contract.Record, contract.ChunkLimit) ([]contract.Chunk, error) {
	return nil, nil
}

func TestRunZeroChunksIsFatal(t *testing.T) {
	in := inputDir(t, map[string]string{"doc.txt": passage})
	out := t.TempDir()
	comp := components(t, out, "")
	comp.Chunker = noChunks{}

	_, err := Run(context.Background(), comp, settings(in, out, "qa"), nil)
	assert.ErrorIs(t, err, contract.ErrNoContent)
}

type failingSplitter struct {
	next contract.Splitter
	bad  string
}

func (s failingSplitter) Split(ctx context.Context, fid contract.FileID, r io.Reader) ([]contract.Record, error) {
	if strings.HasSuffix(string(fid), s.bad) {
		return nil, errors.New("extraction failed")
	}
	return s.next.Split(ctx, fid, r)
}

func TestRunSplitFailureSkipsFile(t *testing.T) {
	in := inputDir(t, map[string]string{"bad.txt": passage, "good.txt": passage})
	out := t.TempDir()
	comp := components(t, out, "")
	comp.Splitter = failingSplitter{next: comp.Splitter, bad: "bad.txt"}

	sum, err := Run(context.Background(), comp, settings(in, out, "qa"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Files)
	assert.Equal(t, 1, sum.FileFailures)
	assert.Equal(t, []string{"good_qa.jsonl"}, listDir(t, out))
}

type fakeUploader struct {
	err   error
	calls []string
	files [][]string
}

func (u *fakeUploader) Upload(_ context.Context, _, basename string, files []string) error {
	u.calls = append(u.calls, basename)
	u.files = append(u.files, files)
	return u.err
}

func (u *fakeUploader) RepoID() string { return "acme/data" }

func TestRunUploads(t *testing.T) {
	in := inputDir(t, map[string]string{"a.txt": passage, "b.txt": passage})

	t.Run("success", func(t *testing.T) {
		out := t.TempDir()
		comp := components(t, out, "")
		up := &fakeUploader{}
		comp.Hub = up
		sum, err := Run(context.Background(), comp, settings(in, out, "qa"), nil)
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Uploaded)
		assert.Equal(t, []string{"a", "b"}, up.calls)
		assert.Equal(t, []string{filepath.Join(out, "a_qa.jsonl")}, up.files[0])
	})

	t.Run("failure continues", func(t *testing.T) {
		out := t.TempDir()
		comp := components(t, out, "")
		up := &fakeUploader{err: fmt.Errorf("hub: %w", contract.ErrAuth)}
		comp.Hub = up
		sum, err := Run(context.Background(), comp, settings(in, out, "qa"), nil)
		require.NoError(t, err)
		assert.Equal(t, 2, sum.UploadFailures)
		assert.Zero(t, sum.Uploaded)
		assert.Len(t, sum.Artifacts, 2)
	})

	t.Run("conversion notes travel with the data", func(t *testing.T) {
		out := t.TempDir()
		comp := components(t, out, "")
		up := &fakeUploader{}
		comp.Hub = up
		set := settings(in, out, "qa")
		set.Format = "arrow"
		sum, err := Run(context.Background(), comp, set, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(out, "a_qa.json"), filepath.Join(out, "b_qa.json")}, sum.Artifacts)
		require.Len(t, up.files, 2)
		assert.Equal(t, []string{filepath.Join(out, "a_qa.json"), filepath.Join(out, "a_qa_arrow_conversion.txt")}, up.files[0])
	})
}

func TestRunResumeSkipsCompletedFiles(t *testing.T) {
	in := inputDir(t, map[string]string{"doc.txt": passage})
	out := t.TempDir()
	st, err := checkpoint.Open(filepath.Join(t.TempDir(), "cp.db"))
	require.NoError(t, err)
	defer st.Close()

	comp := components(t, out, "")
	comp.Checkpoint = st
	set := settings(in, out, "qa")
	set.Resume = true

	first, err := Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	assert.Zero(t, first.Skipped)
	assert.Positive(t, first.Invocations)

	second, err := Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped)
	assert.Zero(t, second.Invocations)
	assert.Equal(t, first.Artifacts, second.Artifacts)

	// a different output shape invalidates the fingerprint
	set.Format = "csv"
	third, err := Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	assert.Zero(t, third.Skipped)
	assert.FileExists(t, filepath.Join(out, "doc_qa.csv"))
}

func TestRunResumeTypeChangeRegenerates(t *testing.T) {
	in := inputDir(t, map[string]string{"a.txt": passage})
	out := t.TempDir()
	st, err := checkpoint.Open(filepath.Join(t.TempDir(), "cp.db"))
	require.NoError(t, err)
	defer st.Close()

	comp := components(t, out, "")
	comp.Checkpoint = st
	set := settings(in, out, "qa")
	set.Resume = true

	_, err = Run(context.Background(), comp, set, nil)
	require.NoError(t, err)

	// same generated legacy set, different requested output
	set.Types = []string{"parallel_corpora"}
	second, err := Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	assert.Zero(t, second.Skipped)
	assert.Equal(t, []string{filepath.Join(out, "a_parallel_corpora.jsonl")}, second.Artifacts)
	assert.FileExists(t, filepath.Join(out, "a_parallel_corpora.jsonl"))

	// more samples per chunk
	set.Samples = 3
	third, err := Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	assert.Zero(t, third.Skipped)

	// explicit mode
	set.Mode = "standard"
	set.Types = []string{"qa"}
	fourth, err := Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	assert.Zero(t, fourth.Skipped)
}

func TestRunFailureForgetsCheckpoint(t *testing.T) {
	in := inputDir(t, map[string]string{"doc.txt": passage})
	out := t.TempDir()
	st, err := checkpoint.Open(filepath.Join(t.TempDir(), "cp.db"))
	require.NoError(t, err)
	defer st.Close()

	comp := components(t, out, "")
	comp.Checkpoint = st
	set := settings(in, out, "qa")
	set.Resume = true
	_, err = Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	entries, err := st.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// the edited file no longer splits
	require.NoError(t, os.WriteFile(filepath.Join(in, "doc.txt"), []byte(passage+"\n\nAn added paragraph."), 0o644))
	comp.Splitter = failingSplitter{next: comp.Splitter, bad: "doc.txt"}
	sum, err := Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FileFailures)
	entries, err = st.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// failingWriter fails every artifact whose id contains bad.
type failingWriter struct {
	*wfs.FS
	bad string
}

func (w failingWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if strings.Contains(string(id), w.bad) {
		_, _ = io.Copy(io.Discard, r)
		return errors.New("disk full")
	}
	return w.FS.Write(ctx, id, r)
}

func TestRunWriteFailureRemovesPartialArtifacts(t *testing.T) {
	in := inputDir(t, map[string]string{"bad.txt": passage, "good.txt": passage})
	out := t.TempDir()
	comp := components(t, out, "")
	fs, ok := comp.Writer.(*wfs.FS)
	require.True(t, ok)
	comp.Writer = failingWriter{FS: fs, bad: "bad_summarization"}

	sum, err := Run(context.Background(), comp, settings(in, out, "qa", "summarization"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FileFailures)
	assert.Equal(t, []string{filepath.Join(out, "good_qa.jsonl"), filepath.Join(out, "good_summarization.jsonl")}, sum.Artifacts)
	assert.Equal(t, []string{"good_qa.jsonl", "good_summarization.jsonl"}, listDir(t, out))
}

func TestRunWithoutTerminal(t *testing.T) {
	prev := diag.GetTerminal()
	diag.SetTerminal(nil)
	defer diag.SetTerminal(prev)

	in := inputDir(t, map[string]string{"bad.txt": passage, "good.txt": passage})
	out := t.TempDir()
	st, err := checkpoint.Open(filepath.Join(t.TempDir(), "cp.db"))
	require.NoError(t, err)
	defer st.Close()
	comp := components(t, out, "")
	comp.Splitter = failingSplitter{next: comp.Splitter, bad: "bad.txt"}
	comp.Checkpoint = st
	comp.Hub = &fakeUploader{err: fmt.Errorf("hub: %w", contract.ErrAuth)}
	set := settings(in, out, "qa", "nonsense_type")
	set.Resume = true

	var sum Summary
	require.NotPanics(t, func() {
		sum, err = Run(context.Background(), comp, set, nil)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FileFailures)
	assert.Equal(t, 1, sum.UploadFailures)

	// the resumed run reports the skip through the same nil terminal
	require.NotPanics(t, func() {
		sum, err = Run(context.Background(), comp, set, nil)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
}

func TestRunCancelled(t *testing.T) {
	in := inputDir(t, map[string]string{"doc.txt": passage})
	out := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, components(t, out, ""), settings(in, out, "qa"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunMissingComponents(t *testing.T) {
	_, err := Run(context.Background(), Components{}, Settings{Samples: 1}, nil)
	require.Error(t, err)
}
