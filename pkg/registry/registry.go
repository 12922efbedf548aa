package registry

import (
	"bytes"
	"encoding/json"
	"sort"

	"llmds/pkg/contract"
	csld "llmds/plugins/chunker/sliding"
	dsj "llmds/plugins/decoder/samplejson"
	flaky "llmds/plugins/llmclient/flaky"
	gmi "llmds/plugins/llmclient/gemini"
	mock "llmds/plugins/llmclient/mock"
	oll "llmds/plugins/llmclient/ollama"
	oai "llmds/plugins/llmclient/openai"
	pds "llmds/plugins/prompt/dataset"
	rfs "llmds/plugins/reader/filesystem"
	stx "llmds/plugins/splitter/text"
	wfs "llmds/plugins/writer/filesystem"
)

// strictUnmarshal decodes with DisallowUnknownFields; empty input keeps zero options.
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Factory signatures: each receives its raw JSON options.
type (
	NewReader        func(raw json.RawMessage) (contract.Reader, error)
	NewSplitter      func(raw json.RawMessage) (contract.Splitter, error)
	NewChunker       func(raw json.RawMessage) (contract.Chunker, error)
	NewPromptBuilder func(raw json.RawMessage) (contract.PromptBuilder, error)
	NewLLMClient     func(raw json.RawMessage) (contract.LLMClient, error)
	NewDecoder       func(raw json.RawMessage) (contract.Decoder, error)
	NewWriter        func(raw json.RawMessage) (contract.Writer, error)
)

// Reader factories.
var Reader = map[string]NewReader{
	// fs: files, directories and STDIN
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Splitter factories.
var Splitter = map[string]NewSplitter{
	// text: plain text and PDF (pdftotext) into paragraphs
	"text": func(raw json.RawMessage) (contract.Splitter, error) {
		var opts stx.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return stx.New(&opts), nil
	},
}

// Chunker factories.
var Chunker = map[string]NewChunker{
	// sliding: token-bounded paragraph packing with optional overlap
	"sliding": func(raw json.RawMessage) (contract.Chunker, error) {
		var opts csld.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return csld.New(&opts), nil
	},
}

// PromptBuilder factories.
var PromptBuilder = map[string]NewPromptBuilder{
	// dataset: per-type chat prompt with a json_schema message
	"dataset": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts pds.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pds.New(&opts)
	},
}

// LLMClient factories.
var LLMClient = map[string]NewLLMClient{
	"openai": func(raw json.RawMessage) (contract.LLMClient, error) { return oai.New(raw) },
	"ollama": func(raw json.RawMessage) (contract.LLMClient, error) { return oll.New(raw) },
	"gemini": func(raw json.RawMessage) (contract.LLMClient, error) { return gmi.New(raw) },
	"mock":   func(raw json.RawMessage) (contract.LLMClient, error) { return mock.New(raw) },
	"flaky":  func(raw json.RawMessage) (contract.LLMClient, error) { return flaky.New(raw) },
}

// Decoder factories.
var Decoder = map[string]NewDecoder{
	// samplejson: {"samples":[...]} validated against the TypeSpec
	"samplejson": func(raw json.RawMessage) (contract.Decoder, error) { return dsj.New(raw) },
}

// Writer factories.
var Writer = map[string]NewWriter{
	// fs: filesystem writer with atomic replace
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// Names returns the sorted keys of a factory table.
func Names[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
