package contract

import (
	"context"
	"io"
)

// ArtifactID: identifier of a persisted output artifact (relative name).
type ArtifactID = FileID

// Writer: persists one artifact as a stream.
// Constraints:
//  1. single writer per ArtifactID;
//  2. streams bytes through unchanged;
//  3. honours ctx cancellation;
//  4. errors are returned as-is (no retry).
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}

// Locator: optional Writer extension mapping an artifact id to its on-disk path.
type Locator interface {
	Path(id ArtifactID) (string, error)
}

// Remover: optional Writer extension deleting a persisted artifact; a missing
// artifact is not an error.
type Remover interface {
	Remove(ctx context.Context, id ArtifactID) error
}
