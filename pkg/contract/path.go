package contract

import (
	"path"
	"strings"
)

// NormalizeFileID turns a platform path into a stable FileID.
// Rules:
// - forward slashes only;
// - cleaned (duplicate separators, "." and ".." resolved lexically);
// - relative/absolute semantics preserved.
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

// Base returns the file name without directory and extension ("docs/a.pdf" → "a").
func (id FileID) Base() string {
	b := path.Base(string(id))
	if ext := path.Ext(b); ext != "" && ext != b {
		b = strings.TrimSuffix(b, ext)
	}
	return b
}

// Ext returns the lower-case extension including the dot.
func (id FileID) Ext() string { return strings.ToLower(path.Ext(string(id))) }
