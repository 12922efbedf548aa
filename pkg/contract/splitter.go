package contract

import (
	"context"
	"io"
)

// Splitter: turns the byte stream of one file into ordered paragraph records.
// Constraints:
// 1) never merges across files;
// 2) Index strictly increases from 0;
// 3) text extraction (e.g. PDF) happens here, semantic cleanup does not;
// 4) a file without usable text yields a single placeholder record
//    (Meta[MetaPlaceholder] == "true") unless the implementation is configured otherwise.
type Splitter interface {
	Split(ctx context.Context, fileID FileID, r io.Reader) ([]Record, error)
}
