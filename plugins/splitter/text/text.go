package text

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"llmds/pkg/contract"
)

// DefaultPDFCommand extracts PDF text; "-" "-" reads STDIN and writes STDOUT.
const DefaultPDFCommand = "pdftotext"

var defaultPDFArgs = []string{"-layout", "-", "-"}

// Options configures the text Splitter.
type Options struct {
	// PDFCommand is the extractor executed for ".pdf" files. Default "pdftotext".
	PDFCommand string `json:"pdf_command"`
	// PDFArgs are the extractor arguments; the PDF arrives on STDIN.
	// nil means ["-layout","-","-"].
	PDFArgs []string `json:"pdf_args"`
	// MinParagraphBytes drops paragraphs shorter than this (page numbers, headers).
	MinParagraphBytes int `json:"min_paragraph_bytes"`
	// NoPlaceholder returns no records for files without usable text.
	NoPlaceholder bool `json:"no_placeholder"`
}

// Splitter turns text and PDF files into paragraph records.
type Splitter struct {
	pdfCmd  string
	pdfArgs []string
	minLen  int
	noPH    bool
}

// New creates a text Splitter.
func New(opts *Options) *Splitter {
	s := &Splitter{pdfCmd: DefaultPDFCommand, pdfArgs: defaultPDFArgs}
	if opts == nil {
		return s
	}
	if opts.PDFCommand != "" {
		s.pdfCmd = opts.PDFCommand
	}
	if opts.PDFArgs != nil {
		s.pdfArgs = opts.PDFArgs
	}
	if opts.MinParagraphBytes > 0 {
		s.minLen = opts.MinParagraphBytes
	}
	s.noPH = opts.NoPlaceholder
	return s
}

var blankLines = regexp.MustCompile(`\n[ \t\f\v]*\n`)

// Split extracts the text of one file and cuts it at blank lines.
// Text is NFC normalized and control characters other than newline and tab are
// dropped. A file without usable text yields one placeholder record.
func (s *Splitter) Split(ctx context.Context, fileID contract.FileID, r io.Reader) ([]contract.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw []byte
	var err error
	if fileID.Ext() == ".pdf" {
		raw, err = s.extractPDF(ctx, r)
	} else {
		raw, err = io.ReadAll(r)
	}
	if err != nil {
		return nil, err
	}
	text := clean(raw)

	var recs []contract.Record
	for _, para := range blankLines.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" || len(para) < s.minLen {
			continue
		}
		recs = append(recs, contract.Record{Index: contract.Index(len(recs)), FileID: fileID, Text: para})
	}
	if len(recs) == 0 && !s.noPH {
		recs = append(recs, contract.Record{
			FileID: fileID,
			Text:   fmt.Sprintf("[No extractable text was found in %s]", fileID.Base()),
			Meta:   contract.Meta{contract.MetaPlaceholder: "true"},
		})
	}
	return recs, nil
}

func (s *Splitter) extractPDF(ctx context.Context, r io.Reader) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.pdfCmd, s.pdfArgs...)
	cmd.Stdin = r
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdf extraction with %s failed: %w (%s); install poppler-utils", s.pdfCmd, err, contract.Trim(stderr.String(), 200))
	}
	return out.Bytes(), nil
}

func clean(b []byte) string {
	s := strings.ToValidUTF8(string(b), "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	// pdftotext separates pages with form feeds
	s = strings.ReplaceAll(s, "\f", "\n\n")
	s = norm.NFC.String(s)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, s)
}

var _ contract.Splitter = (*Splitter)(nil)
