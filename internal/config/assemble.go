package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"llmds/internal/checkpoint"
	"llmds/internal/convert"
	"llmds/internal/diag"
	"llmds/internal/generate"
	"llmds/internal/hub"
	"llmds/internal/pipeline"
	"llmds/internal/prompt"
	"llmds/internal/rate"
	"llmds/internal/types"
	"llmds/pkg/contract"
	"llmds/pkg/registry"
	"llmds/plugins/chunker/sliding"
)

// ErrInvalid marks configuration errors (exit code 3).
var ErrInvalid = errors.New("config: invalid")

// CheckpointFile is the default checkpoint name inside the output directory.
const CheckpointFile = ".llmds_checkpoint.db"

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}

// Validate checks the static boundaries of a merged config.
func Validate(cfg Config) error {
	// no roots, or a single "-", reads STDIN
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return invalid("input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" && len(cfg.Inputs) > 1 {
			return invalid("'-' cannot be mixed with other roots")
		}
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return invalid("output_dir not set")
	}
	if cfg.Concurrency < 1 {
		return invalid("concurrency must be >= 1")
	}
	if cfg.Samples < 1 {
		return invalid("samples must be >= 1")
	}
	if cfg.MaxTokens <= 0 {
		return invalid("max_tokens must be > 0")
	}
	if cfg.MaxRetries < 0 {
		return invalid("max_retries must be >= 0")
	}
	if cfg.InvokeTimeoutSeconds < 0 {
		return invalid("invoke_timeout_seconds must be >= 0")
	}
	if !types.ValidMode(cfg.Dataset.Mode) {
		return invalid("dataset format %q is not one of legacy, standard, modern, indic, all", cfg.Dataset.Mode)
	}
	if _, err := convert.ParseTarget(cfg.Dataset.TRLMode, cfg.Dataset.TRLShape); err != nil {
		return invalid("%v", err)
	}
	if cfg.LLM == "" {
		return invalid("llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return invalid("provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return invalid("provider %q missing client", cfg.LLM)
	}
	if prov.Limits.MaxTokensPerReq > 0 && cfg.MaxTokens > prov.Limits.MaxTokensPerReq {
		return invalid("max_tokens(%d) exceeds provider.max_tokens_per_req(%d)", cfg.MaxTokens, prov.Limits.MaxTokensPerReq)
	}
	d := Defaults().Components
	if name := effName(cfg.Components.Reader, d.Reader); registry.Reader[name] == nil {
		return invalid("reader %q not registered", name)
	}
	if name := effName(cfg.Components.Splitter, d.Splitter); registry.Splitter[name] == nil {
		return invalid("splitter %q not registered", name)
	}
	if name := effName(cfg.Components.Chunker, d.Chunker); registry.Chunker[name] == nil {
		return invalid("chunker %q not registered", name)
	}
	if name := effName(cfg.Components.PromptBuilder, d.PromptBuilder); registry.PromptBuilder[name] == nil {
		return invalid("prompt_builder %q not registered", name)
	}
	if name := effName(cfg.Components.Decoder, d.Decoder); registry.Decoder[name] == nil {
		return invalid("decoder %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return invalid("writer %q not registered", name)
	}
	if registry.LLMClient[prov.Client] == nil {
		return invalid("llm client %q not registered", prov.Client)
	}
	if cfg.Upload.Enabled {
		if strings.TrimSpace(cfg.Upload.RepoID) == "" {
			return invalid("upload requires repo_id")
		}
		if hub.ResolveToken(cfg.Upload.Token) == "" {
			return invalid("upload requires a token (upload.token or %s)", hub.TokenEnv)
		}
	}
	return nil
}

// Assemble validates cfg and builds the components and run settings.
// Strict option parsing happens in the registry factories; only raw JSON passes here.
// The caller owns comp.Checkpoint and must Close it.
func Assemble(cfg Config, logger *diag.Logger) (pipeline.Components, pipeline.Settings, error) {
	var (
		comp pipeline.Components
		set  pipeline.Settings
	)
	if err := Validate(cfg); err != nil {
		return comp, set, err
	}
	d := Defaults().Components
	wn := effName(cfg.Components.Writer, d.Writer)
	writerOpts := cfg.Options.Writer
	if wn == "fs" {
		var err error
		if writerOpts, err = withOutputDir(writerOpts, cfg.OutputDir); err != nil {
			return comp, set, invalid("options.writer: %v", err)
		}
	}

	var err error
	if comp.Reader, err = registry.Reader[effName(cfg.Components.Reader, d.Reader)](cfg.Options.Reader); err != nil {
		return comp, set, invalid("options.reader: %v", err)
	}
	if comp.Splitter, err = registry.Splitter[effName(cfg.Components.Splitter, d.Splitter)](cfg.Options.Splitter); err != nil {
		return comp, set, invalid("options.splitter: %v", err)
	}
	if comp.Chunker, err = registry.Chunker[effName(cfg.Components.Chunker, d.Chunker)](cfg.Options.Chunker); err != nil {
		return comp, set, invalid("options.chunker: %v", err)
	}
	if comp.PromptBuilder, err = registry.PromptBuilder[effName(cfg.Components.PromptBuilder, d.PromptBuilder)](cfg.Options.PromptBuilder); err != nil {
		return comp, set, invalid("options.prompt_builder: %v", err)
	}
	if comp.Decoder, err = registry.Decoder[effName(cfg.Components.Decoder, d.Decoder)](cfg.Options.Decoder); err != nil {
		return comp, set, invalid("options.decoder: %v", err)
	}
	if comp.Writer, err = registry.Writer[wn](writerOpts); err != nil {
		return comp, set, invalid("options.writer: %v", err)
	}
	prov := cfg.Provider[cfg.LLM]
	if comp.LLM, err = registry.LLMClient[prov.Client](prov.Options); err != nil {
		return comp, set, invalid("provider %s: %v", cfg.LLM, err)
	}
	comp.Registry = types.Default()

	// token estimation shared by the chunker, the prompt budget and the gate
	est, tokenizer := prompt.Estimator(cfg.Tokenizer.Encoding, cfg.Tokenizer.BytesPerToken)
	if cfg.Tokenizer.Encoding != "" && !tokenizer {
		logger.Warn("config", "tokenizer unavailable, using byte heuristic", "", map[string]string{"encoding": cfg.Tokenizer.Encoding})
	}
	if ch, ok := comp.Chunker.(*sliding.Chunker); ok {
		comp.Chunker = ch.WithEstimator(est)
	}

	// gate keyed by the hashed credential; provider name when no key is derivable
	key, derr := rate.DeriveKeyFromProviderOptions(prov.Client, prov.Options)
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{
		key: {RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq},
	}, nil)

	target, _ := convert.ParseTarget(cfg.Dataset.TRLMode, cfg.Dataset.TRLShape)
	set = pipeline.Settings{
		Inputs:      cloneStrings(cfg.Inputs),
		OutputDir:   cfg.OutputDir,
		Concurrency: cfg.Concurrency,
		Samples:     cfg.Samples,
		MaxTokens:   cfg.MaxTokens,
		Estimate:    est,
		Types:       cloneStrings(cfg.Dataset.Types),
		Mode:        cfg.Dataset.Mode,
		Lang: contract.LanguageContext{
			Languages:    cloneStrings(cfg.Language.Languages),
			IncludeIndic: cfg.Language.IncludeIndic,
		},
		Format: strings.ToLower(strings.TrimSpace(cfg.Dataset.Format)),
		Target: target,
		Policy: generate.Policy{
			MaxRetries: cfg.MaxRetries,
			Timeout:    time.Duration(cfg.InvokeTimeoutSeconds) * time.Second,
		},
		Gate:    gate,
		GateKey: key,
		Resume:  cfg.Checkpoint.Resume,
		LLMName: cfg.LLM,
	}

	if cfg.Upload.Enabled {
		hc, err := hub.New(hub.Options{
			Endpoint:    cfg.Upload.Endpoint,
			RepoID:      cfg.Upload.RepoID,
			Token:       hub.ResolveToken(cfg.Upload.Token),
			Private:     cfg.Upload.Private,
			Description: cfg.Upload.Description,
		}, logger)
		if err != nil {
			return comp, set, invalid("upload: %v", err)
		}
		comp.Hub = hc
	}
	if cfg.Checkpoint.Resume {
		path := cfg.Checkpoint.Path
		if path == "" {
			path = filepath.Join(cfg.OutputDir, CheckpointFile)
		}
		st, err := checkpoint.Open(path)
		if err != nil {
			return comp, set, fmt.Errorf("checkpoint: %w", err)
		}
		comp.Checkpoint = st
	}
	return comp, set, nil
}

// withOutputDir sets "output_dir" in the writer options; the top-level setting wins.
func withOutputDir(raw json.RawMessage, dir string) (json.RawMessage, error) {
	obj := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
	}
	obj["output_dir"] = dir
	return json.Marshal(obj)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
