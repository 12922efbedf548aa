package contract

import (
	"context"
	"io"
)

// Reader: input source abstraction (files, directories, STDIN).
// Constraints:
// 1) streams one callback per file, in a stable order;
// 2) FileID is normalized;
// 3) bytes only, no decoding or extraction;
// 4) no internal concurrency.
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(fileID FileID, r io.ReadCloser) error) error
}
