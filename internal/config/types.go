package config

import (
	"encoding/json"
)

// Config: read-only run configuration (parsed once, never mutated during a run).
// Files use snake_case keys; unknown keys fail at parse time.
type Config struct {
	Inputs    []string `json:"inputs"`
	OutputDir string   `json:"output_dir"`

	Concurrency int `json:"concurrency"`
	// Samples: samples requested per (chunk, type).
	Samples   int `json:"samples"`
	MaxTokens int `json:"max_tokens"`
	// MaxRetries: extra attempts for retryable failures; 0 = single attempt.
	MaxRetries int `json:"max_retries"`
	// InvokeTimeoutSeconds bounds one invocation; 0 disables.
	InvokeTimeoutSeconds int `json:"invoke_timeout_seconds"`

	Logging    Logging    `json:"logging"`
	Dataset    Dataset    `json:"dataset"`
	Language   Language   `json:"language"`
	Tokenizer  Tokenizer  `json:"tokenizer"`
	Upload     Upload     `json:"upload"`
	Checkpoint Checkpoint `json:"checkpoint"`

	// MetricsFile: optional Prometheus textfile written at the end of a run.
	MetricsFile string `json:"metrics_file"`

	// Component implementation names (empty = default).
	Components Components `json:"components"`

	// Provider selection and definitions.
	LLM      string              `json:"llm"`
	Provider map[string]Provider `json:"provider"`

	// Raw option subtrees handed to the component factories.
	Options Options `json:"options"`
}

// Logging: level and directory; file name and rotation are fixed.
type Logging struct {
	Level string `json:"level"`
	// Dir holds llmds.log; empty = ./logs.
	Dir string `json:"dir"`
}

// Dataset: what to generate and how to write it.
type Dataset struct {
	Types []string `json:"types"`
	// Mode: "" (implicit legacy), legacy, standard, modern, indic or all.
	Mode     string `json:"mode"`
	Format   string `json:"format"`
	TRLMode  string `json:"trl_mode"`
	TRLShape string `json:"trl_shape"`
}

// Language: process-wide language context.
type Language struct {
	Languages    []string `json:"languages"`
	IncludeIndic bool     `json:"include_indic"`
}

// Tokenizer: token estimation for chunk budgets and the rate gate.
type Tokenizer struct {
	// Encoding: tiktoken encoding name; empty uses the byte heuristic.
	Encoding      string `json:"encoding"`
	BytesPerToken int    `json:"bytes_per_token"`
}

// Upload: optional dataset hub sink.
type Upload struct {
	Enabled     bool   `json:"enabled"`
	RepoID      string `json:"repo_id"`
	Private     bool   `json:"private"`
	Token       string `json:"token"`
	Description string `json:"description"`
	Endpoint    string `json:"endpoint"`
}

// Checkpoint: resume support.
type Checkpoint struct {
	Resume bool `json:"resume"`
	// Path of the bbolt file; empty = {output_dir}/.llmds_checkpoint.db.
	Path string `json:"path"`
}

// Components: registry implementation names.
type Components struct {
	Reader        string `json:"reader"`
	Splitter      string `json:"splitter"`
	Chunker       string `json:"chunker"`
	PromptBuilder string `json:"prompt_builder"`
	Decoder       string `json:"decoder"`
	Writer        string `json:"writer"`
}

// Options: raw JSON options per component.
type Options struct {
	Reader        json.RawMessage `json:"reader"`
	Splitter      json.RawMessage `json:"splitter"`
	Chunker       json.RawMessage `json:"chunker"`
	PromptBuilder json.RawMessage `json:"prompt_builder"`
	Decoder       json.RawMessage `json:"decoder"`
	Writer        json.RawMessage `json:"writer"`
}

// Provider: named provider (client implementation, options and limits).
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: rate limits carried here and enforced by rate.Gate.
type Limits struct {
	RPM             int `json:"rpm"`
	TPM             int `json:"tpm"`
	MaxTokensPerReq int `json:"max_tokens_per_req"`
}
