package sliding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"llmds/pkg/contract"
)

// Options configures the sliding-window Chunker.
type Options struct {
	// OverlapRecords: trailing records of a chunk repeated at the start of the next
	// one. < 0 is treated as 0.
	OverlapRecords int `json:"overlap_records"`
	// BytesPerToken: estimation factor, tokens ≈ ceil(utf8_bytes / BytesPerToken).
	// <= 0 means 4.
	BytesPerToken int `json:"bytes_per_token"`
	// Separator joins paragraphs inside a chunk. Empty means a blank line.
	Separator string `json:"separator"`
}

// Chunker packs consecutive paragraph records into token-bounded chunks.
type Chunker struct {
	overlap  int
	bpt      int
	sep      string
	estimate contract.TokenEstimator
}

// New creates a sliding-window Chunker.
func New(opts *Options) *Chunker {
	c := &Chunker{bpt: 4, sep: "\n\n"}
	if opts != nil {
		if opts.OverlapRecords > 0 {
			c.overlap = opts.OverlapRecords
		}
		if opts.BytesPerToken > 0 {
			c.bpt = opts.BytesPerToken
		}
		if opts.Separator != "" {
			c.sep = opts.Separator
		}
	}
	return c
}

// WithEstimator replaces the bytes-per-token heuristic (e.g. with a tokenizer).
func (c *Chunker) WithEstimator(est contract.TokenEstimator) *Chunker {
	c.estimate = est
	return c
}

// piece is a record, or a word-boundary slice of an oversized record.
type piece struct {
	rec    contract.Index
	text   string
	tokens int
	ph     bool
}

// Make groups records into chunks:
//   - records must share one FileID and have contiguous indices from 0;
//   - pieces are packed greedily while the joined estimate fits MaxTokens;
//   - a record larger than the budget is split on word boundaries;
//   - with overlap, the next chunk restarts OverlapRecords pieces back but always
//     advances by at least one piece.
func (c *Chunker) Make(ctx context.Context, records []contract.Record, limit contract.ChunkLimit) ([]contract.Chunk, error) {
	if limit.MaxTokens <= 0 {
		return nil, errors.New("chunker: max tokens must be > 0")
	}
	n := len(records)
	if n == 0 {
		return nil, nil
	}
	fid := records[0].FileID
	if records[0].Index != 0 {
		return nil, fmt.Errorf("chunker: first index must be 0, got %d", records[0].Index)
	}
	for i := 1; i < n; i++ {
		if records[i].FileID != fid {
			return nil, errors.New("chunker: records must have the same FileID")
		}
		if records[i].Index != records[i-1].Index+1 {
			return nil, errors.New("chunker: record Index must be contiguous and strictly increasing")
		}
	}

	var pieces []piece
	for _, r := range records {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		ph := r.Meta != nil && r.Meta[contract.MetaPlaceholder] == "true"
		for _, s := range c.splitWords(r.Text, limit.MaxTokens) {
			pieces = append(pieces, piece{rec: r.Index, text: s, tokens: c.tokens(s), ph: ph})
		}
	}
	if len(pieces) == 0 {
		return nil, nil
	}
	sepTok := c.tokens(c.sep)

	var chunks []contract.Chunk
	var idx contract.Index
	l := 0
	for l < len(pieces) {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		r := l + 1
		need := pieces[l].tokens
		for r < len(pieces) && need+sepTok+pieces[r].tokens <= limit.MaxTokens {
			need += sepTok + pieces[r].tokens
			r++
		}
		chunks = append(chunks, c.emit(fid, idx, pieces[l:r]))
		idx++
		if r >= len(pieces) {
			break
		}
		next := r - c.overlap
		if next <= l {
			next = l + 1
		}
		l = next
	}
	return chunks, nil
}

func (c *Chunker) emit(fid contract.FileID, idx contract.Index, ps []piece) contract.Chunk {
	texts := make([]string, len(ps))
	ph := false
	for i, p := range ps {
		texts[i] = p.text
		ph = ph || p.ph
	}
	ch := contract.Chunk{
		FileID: fid,
		Index:  idx,
		Text:   strings.Join(texts, c.sep),
		From:   ps[0].rec,
		To:     ps[len(ps)-1].rec,
	}
	if ph {
		ch.Meta = contract.Meta{contract.MetaPlaceholder: "true"}
	}
	return ch
}

// splitWords cuts s into word-boundary pieces that fit budget. A single word larger
// than the budget becomes its own piece.
func (c *Chunker) splitWords(s string, budget int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if c.tokens(s) <= budget {
		return []string{s}
	}
	var out []string
	var cur strings.Builder
	for _, w := range strings.Fields(s) {
		if cur.Len() > 0 && c.tokens(cur.String()+" "+w) > budget {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func (c *Chunker) tokens(s string) int {
	if c.estimate != nil {
		return c.estimate(s)
	}
	if len(s) == 0 {
		return 0
	}
	return (len(s) + c.bpt - 1) / c.bpt
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

var _ contract.Chunker = (*Chunker)(nil)
