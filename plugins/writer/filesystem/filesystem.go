package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"llmds/pkg/contract"
)

// Options configures the dataset artifact store.
type Options struct {
	// OutputDir is the artifact root (required).
	OutputDir string `json:"output_dir"`
	// Atomic stages each artifact in a hidden temp file and renames it into place. Default true.
	Atomic *bool `json:"atomic,omitempty"`
	// Flat keeps only the base name of artifact ids. Default true.
	Flat *bool `json:"flat,omitempty"`
	// PermFile/PermDir: 0 means 0644/0755.
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize is the write buffer size; <= 0 means 64KiB.
	BufSize int `json:"buf_size,omitempty"`
}

// FS stores dataset artifacts ({base}_{type}.{format} and companions) under one root.
type FS struct {
	root    string
	atomic  bool
	flat    bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

const stagePrefix = ".llmds-"

// New creates the filesystem store.
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, fmt.Errorf("writer: %w: output_dir is required", contract.ErrInvalidInput)
	}
	w := &FS{root: opts.OutputDir, atomic: true, flat: true, permF: 0o644, permD: 0o755, bufSize: 64 * 1024}
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	if opts.Flat != nil {
		w.flat = *opts.Flat
	}
	if opts.PermFile != 0 {
		w.permF = opts.PermFile
	}
	if opts.PermDir != 0 {
		w.permD = opts.PermDir
	}
	if opts.BufSize > 0 {
		w.bufSize = opts.BufSize
	}
	return w, nil
}

var (
	_ contract.Writer  = (*FS)(nil)
	_ contract.Locator = (*FS)(nil)
	_ contract.Remover = (*FS)(nil)
)

// Root returns the output directory.
func (w *FS) Root() string { return w.root }

// Path maps id to its destination without writing.
func (w *FS) Path(id contract.ArtifactID) (string, error) { return w.resolve(id) }

// Write streams r into the artifact named by id, replacing any previous version.
// With Atomic a failed write leaves the previous version untouched.
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.resolve(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return fmt.Errorf("writer: %s: %w", id, err)
	}
	st, err := w.stage(dest)
	if err != nil {
		return fmt.Errorf("writer: %s: %w", id, err)
	}
	if err := st.fill(ctx, r, w.bufSize); err != nil {
		st.abort()
		return err
	}
	return st.commit()
}

// Remove deletes the artifact named by id. A missing artifact is not an error.
func (w *FS) Remove(ctx context.Context, id contract.ArtifactID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.resolve(id)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("writer: remove %s: %w", id, err)
	}
	return nil
}

// resolve cleans id and joins it under root; ids escaping the root are rejected.
func (w *FS) resolve(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(string(id))
	if w.flat {
		rel = filepath.Base(rel)
	}
	switch {
	case rel == "." || rel == ".." || rel == "" || rel == string(filepath.Separator):
		return "", contract.ErrPathInvalid
	case filepath.IsAbs(rel) || filepath.VolumeName(rel) != "":
		return "", contract.ErrPathInvalid
	case strings.HasPrefix(rel, ".."+string(filepath.Separator)):
		return "", contract.ErrPathInvalid
	case strings.HasPrefix(filepath.Base(rel), stagePrefix):
		// staging names are reserved
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

// staged is an artifact being written: either a temp file renamed on commit or
// the destination itself.
type staged struct {
	f    *os.File
	dest string
	tmp  string
}

func (w *FS) stage(dest string) (*staged, error) {
	if !w.atomic {
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
		if err != nil {
			return nil, err
		}
		return &staged{f: f, dest: dest}, nil
	}
	f, err := os.CreateTemp(filepath.Dir(dest), stagePrefix+"*")
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(f.Name(), w.permF)
	return &staged{f: f, dest: dest, tmp: f.Name()}, nil
}

func (s *staged) fill(ctx context.Context, r io.Reader, size int) error {
	bw := bufio.NewWriterSize(s.f, size)
	if _, err := io.Copy(bw, &ctxReader{ctx: ctx, r: r}); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if s.tmp != "" {
		return s.f.Sync()
	}
	return nil
}

func (s *staged) abort() {
	_ = s.f.Close()
	if s.tmp != "" {
		_ = os.Remove(s.tmp)
	}
}

func (s *staged) commit() error {
	if err := s.f.Close(); err != nil {
		if s.tmp != "" {
			_ = os.Remove(s.tmp)
		}
		return err
	}
	if s.tmp == "" {
		return nil
	}
	if err := osReplace(s.tmp, s.dest); err != nil {
		_ = os.Remove(s.tmp)
		return err
	}
	// best effort: persist the rename
	_ = syncDir(filepath.Dir(s.dest))
	return nil
}

// ctxReader checks ctx before every Read.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
