package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"llmds/internal/generate"
)

// EnvPrefix is the prefix of every configuration environment variable.
const EnvPrefix = "LLMDS_"

// Unset marks an integer overlay field whose zero value is meaningful.
const Unset = -1

// Defaults returns the base layer with safe values.
// The LLM has no default; it must come from a file, ENV or the CLI.
func Defaults() Config {
	return Config{
		OutputDir:            "out",
		Concurrency:          3,
		Samples:              5,
		MaxTokens:            2000,
		MaxRetries:           0,
		InvokeTimeoutSeconds: int(generate.DefaultInvokeTimeout.Seconds()),
		Logging:              Logging{Level: "info"},
		Dataset: Dataset{
			Types:    []string{"qa"},
			Format:   "jsonl",
			TRLMode:  "standard",
			TRLShape: "prompt_completion",
		},
		Language:  Language{Languages: []string{"en"}},
		Tokenizer: Tokenizer{BytesPerToken: 4},
		Components: Components{
			Reader:        "fs",
			Splitter:      "text",
			Chunker:       "sliding",
			PromptBuilder: "dataset",
			Decoder:       "samplejson",
			Writer:        "fs",
		},
	}
}

// Overlay returns an empty layer whose "zero is meaningful" fields are Unset.
func Overlay() Config {
	return Config{MaxRetries: Unset, InvokeTimeoutSeconds: Unset}
}

// Load parses a config file or raw bytes. YAML is chosen by a .yaml/.yml extension or,
// for raw input, by content that does not start with '{'. Unknown keys fail either way.
func Load(path string, raw []byte) (Config, error) {
	var err error
	switch {
	case len(raw) > 0:
	case path != "":
		if raw, err = os.ReadFile(path); err != nil {
			return Overlay(), err
		}
	default:
		return Overlay(), errors.New("no config source provided")
	}
	if isYAML(path, raw) {
		if raw, err = yamlToJSON(raw); err != nil {
			return Overlay(), fmt.Errorf("config yaml: %w", err)
		}
	}
	return LoadJSON("", raw)
}

// LoadJSON parses Config from a file path or raw JSON, rejecting unknown fields.
// Absent max_retries/invoke_timeout_seconds stay Unset so Merge keeps the base value.
func LoadJSON(path string, raw []byte) (Config, error) {
	cfg := Overlay()
	var err error
	switch {
	case len(raw) > 0:
	case path != "":
		if raw, err = os.ReadFile(path); err != nil {
			return cfg, err
		}
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func isYAML(path string, raw []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	case ".json":
		return false
	}
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] != '{'
}

// yamlToJSON re-encodes a YAML document as JSON so one strict decoder serves both.
func yamlToJSON(raw []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

// Merge layers over onto base (later wins).
// Scalars, strings, lists and raw JSON are replaced, never deep-merged.
// Booleans only switch on: a layer cannot turn off what a lower layer enabled.
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	setStr(&out.OutputDir, over.OutputDir)
	setInt(&out.Concurrency, over.Concurrency)
	setInt(&out.Samples, over.Samples)
	setInt(&out.MaxTokens, over.MaxTokens)
	if over.MaxRetries != Unset {
		out.MaxRetries = over.MaxRetries
	}
	if over.InvokeTimeoutSeconds != Unset {
		out.InvokeTimeoutSeconds = over.InvokeTimeoutSeconds
	}
	setStr(&out.Logging.Level, over.Logging.Level)
	setStr(&out.Logging.Dir, over.Logging.Dir)

	if len(over.Dataset.Types) > 0 {
		out.Dataset.Types = cloneStrings(over.Dataset.Types)
	}
	setStr(&out.Dataset.Mode, over.Dataset.Mode)
	setStr(&out.Dataset.Format, over.Dataset.Format)
	setStr(&out.Dataset.TRLMode, over.Dataset.TRLMode)
	setStr(&out.Dataset.TRLShape, over.Dataset.TRLShape)

	if len(over.Language.Languages) > 0 {
		out.Language.Languages = cloneStrings(over.Language.Languages)
	}
	out.Language.IncludeIndic = out.Language.IncludeIndic || over.Language.IncludeIndic

	setStr(&out.Tokenizer.Encoding, over.Tokenizer.Encoding)
	setInt(&out.Tokenizer.BytesPerToken, over.Tokenizer.BytesPerToken)

	out.Upload.Enabled = out.Upload.Enabled || over.Upload.Enabled
	out.Upload.Private = out.Upload.Private || over.Upload.Private
	setStr(&out.Upload.RepoID, over.Upload.RepoID)
	setStr(&out.Upload.Token, over.Upload.Token)
	setStr(&out.Upload.Description, over.Upload.Description)
	setStr(&out.Upload.Endpoint, over.Upload.Endpoint)

	out.Checkpoint.Resume = out.Checkpoint.Resume || over.Checkpoint.Resume
	setStr(&out.Checkpoint.Path, over.Checkpoint.Path)
	setStr(&out.MetricsFile, over.MetricsFile)

	setStr(&out.Components.Reader, over.Components.Reader)
	setStr(&out.Components.Splitter, over.Components.Splitter)
	setStr(&out.Components.Chunker, over.Components.Chunker)
	setStr(&out.Components.PromptBuilder, over.Components.PromptBuilder)
	setStr(&out.Components.Decoder, over.Components.Decoder)
	setStr(&out.Components.Writer, over.Components.Writer)

	// providers: whole-entry replacement per key
	if len(over.Provider) > 0 {
		merged := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			merged[k] = v
		}
		for k, v := range over.Provider {
			merged[k] = v
		}
		out.Provider = merged
	}

	setRaw(&out.Options.Reader, over.Options.Reader)
	setRaw(&out.Options.Splitter, over.Options.Splitter)
	setRaw(&out.Options.Chunker, over.Options.Chunker)
	setRaw(&out.Options.PromptBuilder, over.Options.PromptBuilder)
	setRaw(&out.Options.Decoder, over.Options.Decoder)
	setRaw(&out.Options.Writer, over.Options.Writer)

	setStr(&out.LLM, over.LLM)
	return out
}

func setStr(dst *string, v string) {
	if t := strings.TrimSpace(v); t != "" {
		*dst = t
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setRaw(dst *json.RawMessage, v json.RawMessage) {
	if len(v) > 0 {
		*dst = cloneRaw(v)
	}
}

// EnvOverlay builds an overlay from LLMDS_* variables; unrecognized keys are ignored.
// Supported: INPUTS, OUTPUT_DIR, CONCURRENCY, SAMPLES, MAX_TOKENS, MAX_RETRIES,
// INVOKE_TIMEOUT_SECONDS, LOG_LEVEL, LOG_DIR, LLM, TYPES, DATASET_FORMAT, FORMAT, TRL_MODE,
// TRL_SHAPE, LANGUAGES, INCLUDE_INDIC, TOKENIZER_ENCODING, UPLOAD, REPO_ID, PRIVATE,
// UPLOAD_TOKEN, UPLOAD_ENDPOINT, RESUME, CHECKPOINT_PATH, METRICS_FILE, COMPONENTS_*
// and PROVIDER__<name>__{CLIENT,LIMITS_RPM,LIMITS_TPM,LIMITS_MAX_TOKENS_PER_REQ,OPTIONS_JSON}.
func EnvOverlay(environ []string) (Config, error) {
	over := Overlay()
	prov := map[string]Provider{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := strings.TrimSpace(kv[eq+1:])
		switch nk {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "OUTPUT_DIR":
			over.OutputDir = val
		case "CONCURRENCY":
			envInt(&over.Concurrency, val)
		case "SAMPLES":
			envInt(&over.Samples, val)
		case "MAX_TOKENS":
			envInt(&over.MaxTokens, val)
		case "MAX_RETRIES":
			envInt(&over.MaxRetries, val)
		case "INVOKE_TIMEOUT_SECONDS":
			envInt(&over.InvokeTimeoutSeconds, val)
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "LOG_DIR":
			over.Logging.Dir = val
		case "LLM":
			over.LLM = val
		case "TYPES":
			over.Dataset.Types = splitComma(val)
		case "DATASET_FORMAT":
			over.Dataset.Mode = val
		case "FORMAT":
			over.Dataset.Format = val
		case "TRL_MODE":
			over.Dataset.TRLMode = val
		case "TRL_SHAPE":
			over.Dataset.TRLShape = val
		case "LANGUAGES":
			over.Language.Languages = splitComma(val)
		case "INCLUDE_INDIC":
			over.Language.IncludeIndic = truthy(val)
		case "TOKENIZER_ENCODING":
			over.Tokenizer.Encoding = val
		case "UPLOAD":
			over.Upload.Enabled = truthy(val)
		case "REPO_ID":
			over.Upload.RepoID = val
		case "PRIVATE":
			over.Upload.Private = truthy(val)
		case "UPLOAD_TOKEN":
			over.Upload.Token = val
		case "UPLOAD_ENDPOINT":
			over.Upload.Endpoint = val
		case "RESUME":
			over.Checkpoint.Resume = truthy(val)
		case "CHECKPOINT_PATH":
			over.Checkpoint.Path = val
		case "METRICS_FILE":
			over.MetricsFile = val
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_SPLITTER":
			over.Components.Splitter = val
		case "COMPONENTS_CHUNKER":
			over.Components.Chunker = val
		case "COMPONENTS_PROMPT_BUILDER":
			over.Components.PromptBuilder = val
		case "COMPONENTS_DECODER":
			over.Components.Decoder = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		default:
			if !strings.HasPrefix(nk, "PROVIDER__") {
				continue
			}
			parts := strings.Split(nk, "__")
			if len(parts) < 3 {
				continue
			}
			name := strings.TrimSpace(parts[1])
			p := prov[name]
			changed := false
			switch strings.Join(parts[2:], "__") {
			case "CLIENT":
				if val != "" {
					p.Client = val
					changed = true
				}
			case "LIMITS_RPM":
				changed = envInt(&p.Limits.RPM, val)
			case "LIMITS_TPM":
				changed = envInt(&p.Limits.TPM, val)
			case "LIMITS_MAX_TOKENS_PER_REQ":
				changed = envInt(&p.Limits.MaxTokensPerReq, val)
			case "OPTIONS_JSON":
				if val != "" {
					if !json.Valid([]byte(val)) {
						return over, fmt.Errorf("%w: %s%s is not valid JSON", ErrInvalid, EnvPrefix, nk)
					}
					p.Options = json.RawMessage(val)
					changed = true
				}
			}
			// only providers with an effective change are recorded
			if changed {
				prov[name] = p
			}
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

func envInt(dst *int, s string) bool {
	v, err := atoi(s)
	if err != nil {
		return false
	}
	*dst = v
	return true
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
