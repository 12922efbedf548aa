package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

var bucketFiles = []byte("CompletedFiles")

// DefaultPath is used when no checkpoint path is configured.
const DefaultPath = ".llmds/checkpoint.db"

// Entry: one completed input file.
type Entry struct {
	FileID      string    `json:"file_id"`
	Fingerprint string    `json:"fingerprint"`
	Artifacts   []string  `json:"artifacts,omitempty"`
	Samples     int       `json:"samples"`
	Uploaded    bool      `json:"uploaded,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Store: bbolt backed record of completed files, used by --resume.
// An entry counts as done only while its fingerprint matches; changing the input file
// or any field of Shape invalidates it.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFiles)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database; nil-safe.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Shape lists the settings that decide what a file's artifacts contain.
type Shape struct {
	// Generated: resolved types invoked per chunk.
	Generated []string
	// Requested: types written to artifacts.
	Requested []string
	Mode      string
	Samples   int
	Format    string
	Target    string
}

// Fingerprint identifies one processing of a file: content identity (size, mtime)
// plus every setting that shapes its artifacts. Type order is irrelevant.
func Fingerprint(fileID string, size int64, mtime time.Time, sh Shape) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|gen=%s|req=%s|mode=%s|n=%d|%s|%s", fileID, size, mtime.UnixNano(),
		sortedJoin(sh.Generated), sortedJoin(sh.Requested), sh.Mode, sh.Samples, sh.Format, sh.Target)
	return hex.EncodeToString(h.Sum(nil))
}

func sortedJoin(in []string) string {
	ts := append([]string(nil), in...)
	sort.Strings(ts)
	return strings.Join(ts, ",")
}

// Done returns the entry of fileID when it was completed with the same fingerprint.
func (s *Store) Done(fileID, fingerprint string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	var e Entry
	found := false
	_ = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketFiles).Get([]byte(fileID))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		found = e.Fingerprint == fingerprint
		return nil
	})
	return e, found
}

// Mark records e as completed, replacing any older entry of the same file.
func (s *Store) Mark(e Entry) error {
	if s == nil {
		return nil
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFiles).Put([]byte(e.FileID), data)
	})
}

// Forget removes the entry of fileID.
func (s *Store) Forget(fileID string) error {
	if s == nil {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFiles).Delete([]byte(fileID))
	})
}

// List returns every entry ordered by file id.
func (s *Store) List() ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	var out []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}
