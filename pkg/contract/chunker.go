package contract

import "context"

// ChunkLimit: sizing limits for one chunk.
type ChunkLimit struct {
	// MaxTokens: approximate token budget per chunk; must be positive.
	MaxTokens int
}

// Chunker: groups the ordered records of one file into chunks.
// Constraints:
//  1. records of a single FileID only;
//  2. respects the token budget (oversized records are split on word boundaries);
//  3. never reorders; chunk Index is 0..n-1;
//  4. no internal concurrency.
type Chunker interface {
	Make(ctx context.Context, records []Record, limit ChunkLimit) ([]Chunk, error)
}
