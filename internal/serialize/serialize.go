package serialize

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"llmds/internal/diag"
	"llmds/pkg/contract"
)

// Format: on-disk encoding of an artifact.
type Format string

const (
	FormatJSON    Format = "json"
	FormatJSONL   Format = "jsonl"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet" // placeholder: JSON plus conversion notes
	FormatArrow   Format = "arrow"   // placeholder: JSON plus conversion notes
)

// Formats lists every accepted format name.
var Formats = []Format{FormatJSON, FormatJSONL, FormatCSV, FormatParquet, FormatArrow}

// ErrNothingToWrite: the record list is empty; no artifact is created.
var ErrNothingToWrite = errors.New("serialize: nothing to write")

// Known reports whether f is an accepted format.
func Known(f string) bool {
	for _, k := range Formats {
		if Format(strings.ToLower(strings.TrimSpace(f))) == k {
			return true
		}
	}
	return false
}

// Placeholder reports whether f is written as JSON plus conversion notes.
func Placeholder(f Format) bool { return f == FormatParquet || f == FormatArrow }

// Serializer writes converted records through a contract.Writer.
type Serializer struct {
	W      contract.Writer
	Logger *diag.Logger
}

// Artifact is one serialized record set: the data file plus its companions
// (conversion notes for placeholder formats).
type Artifact struct {
	ID             contract.ArtifactID
	Path           string
	Companions     []contract.ArtifactID
	CompanionPaths []string
}

// Files lists the paths of the data file and every companion.
func (a Artifact) Files() []string {
	return append([]string{a.Path}, a.CompanionPaths...)
}

// Write persists records as {prefix}.{format}. Path is the writer's on-disk path
// when it is a contract.Locator, else the artifact id.
//   - parquet/arrow: {prefix}.json plus the companion {prefix}_{format}_conversion.txt;
//   - unknown formats: {prefix}.json with a warning;
//   - empty input: ErrNothingToWrite, nothing is created.
func (s *Serializer) Write(ctx context.Context, records []contract.OutputRecord, prefix string, format string) (Artifact, error) {
	if s == nil || s.W == nil {
		return Artifact{}, fmt.Errorf("serialize: %w: no writer", contract.ErrInvalidInput)
	}
	if strings.TrimSpace(prefix) == "" {
		return Artifact{}, fmt.Errorf("serialize: %w: empty prefix", contract.ErrPathInvalid)
	}
	if len(records) == 0 {
		return Artifact{}, ErrNothingToWrite
	}
	f := Format(strings.ToLower(strings.TrimSpace(format)))
	switch {
	case f == FormatJSON, f == FormatJSONL, f == FormatCSV:
	case Placeholder(f):
		s.Logger.Warn("serializer", "format not implemented, writing json plus conversion notes", prefix, map[string]string{"format": string(f)})
	default:
		s.Logger.Warn("serializer", "unknown format, falling back to json", prefix, map[string]string{"format": format})
	}

	enc := f
	if enc != FormatJSONL && enc != FormatCSV {
		enc = FormatJSON
	}
	id := contract.ArtifactID(prefix + "." + string(enc))
	timer := s.Logger.StartWithKV("serializer", "write", string(id), "", map[string]string{"format": string(enc)})
	if err := s.stream(ctx, id, func(w io.Writer) error { return encode(w, records, enc) }); err != nil {
		diag.Fail(s.Logger, "serializer", "write failed", err, string(id), "", nil)
		return Artifact{}, err
	}
	timer.Finish("write", int64(len(records)))
	diag.IncOp("serializer", "finish", "success")

	a := Artifact{ID: id, Path: s.path(id)}
	if Placeholder(f) {
		notesID := contract.ArtifactID(fmt.Sprintf("%s_%s_conversion.txt", prefix, f))
		notes := ConversionNotes(f, baseName(string(id)))
		if err := s.W.Write(ctx, notesID, strings.NewReader(notes)); err != nil {
			// the JSON artifact is already in place; notes are best effort
			s.Logger.Warn("serializer", "conversion notes not written", string(notesID), map[string]string{"err": err.Error()})
		} else {
			a.Companions = append(a.Companions, notesID)
			a.CompanionPaths = append(a.CompanionPaths, s.path(notesID))
		}
	}
	return a, nil
}

// Discard removes a previously written artifact and its companions when the
// writer is a contract.Remover. Removal errors are logged, not returned.
func (s *Serializer) Discard(ctx context.Context, a Artifact) {
	rm, ok := s.W.(contract.Remover)
	if !ok {
		return
	}
	for _, id := range append([]contract.ArtifactID{a.ID}, a.Companions...) {
		if err := rm.Remove(ctx, id); err != nil {
			s.Logger.Warn("serializer", "partial artifact not removed", string(id), map[string]string{"err": err.Error()})
		}
	}
}

// stream pipes an encoder into the writer, as one Write call per artifact.
func (s *Serializer) stream(ctx context.Context, id contract.ArtifactID, fn func(io.Writer) error) error {
	pr, pw := io.Pipe()
	go func() {
		bw := bufio.NewWriter(pw)
		err := fn(bw)
		if err == nil {
			err = bw.Flush()
		}
		pw.CloseWithError(err)
	}()
	err := s.W.Write(ctx, id, pr)
	// unblock the encoder if the writer stopped early
	_ = pr.CloseWithError(io.ErrClosedPipe)
	return err
}

func (s *Serializer) path(id contract.ArtifactID) string {
	if loc, ok := s.W.(contract.Locator); ok {
		if p, err := loc.Path(id); err == nil {
			return p
		}
	}
	return string(id)
}

func encode(w io.Writer, records []contract.OutputRecord, f Format) error {
	switch f {
	case FormatJSONL:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	case FormatCSV:
		return encodeCSV(w, records)
	default:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
}

// encodeCSV: header is the sorted union of record keys; strings are written as is,
// other values JSON encoded, missing values empty.
func encodeCSV(w io.Writer, records []contract.OutputRecord) error {
	seen := map[string]bool{}
	var header []string
	for _, r := range records {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
	}
	sort.Strings(header)
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(header))
	for _, r := range records {
		for i, k := range header {
			v, ok := r[k]
			switch {
			case !ok || v == nil:
				row[i] = ""
			default:
				if s, isStr := v.(string); isStr {
					row[i] = s
					continue
				}
				b, err := json.Marshal(v)
				if err != nil {
					return err
				}
				row[i] = string(b)
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ConversionNotes describes the manual steps turning the JSON artifact into f.
func ConversionNotes(f Format, jsonFile string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s output is not produced natively.\n", strings.ToUpper(string(f)))
	fmt.Fprintf(&b, "The records were written as a JSON array to %s.\n\n", jsonFile)
	b.WriteString("To convert manually:\n\n")
	switch f {
	case FormatParquet:
		b.WriteString("  pip install pandas pyarrow\n")
		fmt.Fprintf(&b, "  python -c \"import pandas as pd; pd.read_json('%s').to_parquet('%s')\"\n",
			jsonFile, strings.TrimSuffix(jsonFile, ".json")+".parquet")
	case FormatArrow:
		b.WriteString("  pip install pyarrow\n")
		fmt.Fprintf(&b, "  python -c \"import json, pyarrow as pa, pyarrow.feather as ft; "+
			"ft.write_feather(pa.Table.from_pylist(json.load(open('%s'))), '%s')\"\n",
			jsonFile, strings.TrimSuffix(jsonFile, ".json")+".arrow")
	}
	b.WriteString("\nNested fields (metadata, messages) are kept as structs/lists by the converters above.\n")
	return b.String()
}

func baseName(id string) string {
	if i := strings.LastIndexAny(id, `/\`); i >= 0 {
		return id[i+1:]
	}
	return id
}
