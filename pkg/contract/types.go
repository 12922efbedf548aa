package contract

// FileID: logical document id (usually a path, normalized to be platform independent).
type FileID string

// Index: stable, increasing position inside one file (0..n-1).
type Index int64

// Meta: optional lightweight annotations; the core flow never interprets the values.
type Meta map[string]string

// Record: atomic input fragment (one paragraph); never spans files.
// Constraints:
// - FileID is shared by every record of a file;
// - Index starts at 0 and strictly increases;
// - Text is CRLF→LF normalized, otherwise untouched.
type Record struct {
	Index  Index
	FileID FileID
	Text   string
	Meta   Meta // may be nil
}

// Chunk: immutable block of source text, the unit of generation work.
// Identified by (FileID, Index). From/To are the closed range of record indices it
// covers; with overlap enabled consecutive chunks may share records.
type Chunk struct {
	FileID FileID
	Index  Index
	Text   string
	From   Index
	To     Index
	Meta   Meta
}

// Placeholder reports whether the chunk carries placeholder text produced for a file
// without extractable content.
func (c Chunk) Placeholder() bool { return c.Meta != nil && c.Meta[MetaPlaceholder] == "true" }

// MetaPlaceholder marks records/chunks synthesized for files without usable text.
const MetaPlaceholder = "placeholder"
