package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cfgpkg "llmds/internal/config"
	"llmds/internal/diag"
	"llmds/internal/pipeline"
)

var pipelineRun = pipeline.Run

// Exit codes.
const (
	exitOK     = 0
	exitRun    = 1
	exitConfig = 3
)

// Default config files looked up in the working directory, in order.
var defaultConfigFiles = []string{"llmds.json", "llmds.yaml", "llmds.yml"}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// exitError carries the process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if !errors.Is(ee.err, context.Canceled) {
			fmt.Fprintf(stderr, "error: %v\n", ee.err)
		}
		return ee.code
	}
	// flag parsing and argument errors
	fmt.Fprintf(stderr, "error: %v\n", err)
	return exitConfig
}

type cliFlags struct {
	config        string
	output        string
	llm           string
	concurrency   int
	samples       int
	maxTokens     int
	maxRetries    int
	invokeTimeout int
	types         []string
	datasetFormat string
	format        string
	trlMode       string
	trlShape      string
	languages     []string
	includeIndic  bool
	upload        bool
	repoID        string
	private       bool
	token         string
	description   string
	resume        bool
	status        bool
	metricsFile   string
	logLevel      string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &cliFlags{}
	root := &cobra.Command{
		Use:   "llmds [flags] [inputs...]",
		Short: "Generate LLM fine-tuning datasets from text and PDF documents",
		Long: `llmds chunks input documents, asks a language model for structured samples of
every requested dataset type and writes one artifact per input and type.

Inputs are files or directories (.txt and .pdf, recursive); "-" reads STDIN.
Configuration layers: defaults < config file < LLMDS_* environment < flags.

Example:
  llmds init-config
  llmds --llm mock --type qa --type instruction docs/
  llmds --dataset-format standard --format csv --trl-mode conversational docs/
  llmds --upload --repo-id acme/finetune docs/`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, f, args, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	fl := root.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "config file (JSON or YAML; default ./llmds.json or ./llmds.yaml)")
	fl.StringVarP(&f.output, "output", "o", "", "output directory")
	fl.StringVar(&f.llm, "llm", "", "provider name from the config")
	fl.IntVar(&f.concurrency, "concurrency", 0, "chunks processed concurrently")
	fl.IntVarP(&f.samples, "samples", "n", 0, "samples requested per chunk and type")
	fl.IntVar(&f.maxTokens, "max-tokens", 0, "token budget per chunk including the prompt overhead")
	fl.IntVar(&f.maxRetries, "max-retries", 0, "extra attempts for rate-limited or network failures (0 = single attempt)")
	fl.IntVar(&f.invokeTimeout, "invoke-timeout", 0, "seconds per invocation (0 disables)")
	fl.StringSliceVarP(&f.types, "type", "t", nil, "dataset type (repeatable or comma separated; see `llmds types`)")
	fl.StringVar(&f.datasetFormat, "dataset-format", "", "category shortcut: legacy, standard, modern, indic or all")
	fl.StringVarP(&f.format, "format", "f", "", "output format: json, jsonl, csv, parquet, arrow")
	fl.StringVar(&f.trlMode, "trl-mode", "", "record layout: standard or conversational")
	fl.StringVar(&f.trlShape, "trl-shape", "", "standard shape: language_modeling, prompt_only, prompt_completion, preference, unpaired_preference, stepwise_supervision")
	fl.StringSliceVar(&f.languages, "language", nil, "target language (repeatable)")
	fl.BoolVar(&f.includeIndic, "include-indic", false, "ask for Indic language samples as well")
	fl.BoolVar(&f.upload, "upload", false, "upload artifacts to the dataset hub")
	fl.StringVar(&f.repoID, "repo-id", "", "dataset repository (owner/name)")
	fl.BoolVar(&f.private, "private", false, "create the repository as private")
	fl.StringVar(&f.token, "token", "", "hub token (default $HF_TOKEN)")
	fl.StringVar(&f.description, "description", "", "dataset card description")
	fl.BoolVar(&f.resume, "resume", false, "skip inputs already completed with the same settings")
	fl.BoolVar(&f.status, "status", true, "progress on stderr (bars on a TTY, milestones otherwise)")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile at exit")
	fl.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newInitCmd(stdout, stderr), newTypesCmd(stdout), newCheckpointCmd(stdout))
	return root
}

func runGenerate(cmd *cobra.Command, f *cliFlags, roots []string, stderr io.Writer) error {
	start := time.Now()
	corrID := uuid.NewString()
	// .env never overrides the environment; a missing file is fine
	_ = godotenv.Load()

	cfg, err := resolveConfig(cmd, f, roots)
	if err != nil {
		return &exitError{code: exitConfig, err: err}
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		_ = dumpConfig(stderr, cfg)
		return &exitError{code: exitConfig, err: err}
	}
	logger := diag.NewLogger(corrID, cfg.Logging.Level, cfg.Logging.Dir)
	defer logger.Close()

	if err := preflightOutputDir(cfg.OutputDir); err != nil {
		diag.Fail(logger, "pipeline", "output directory not writable", err, "", "", nil)
		return &exitError{code: exitConfig, err: fmt.Errorf("output directory %s: %w", cfg.OutputDir, err)}
	}
	comp, set, err := cfgpkg.Assemble(cfg, logger)
	if err != nil {
		diag.Fail(logger, "pipeline", "assemble failed", err, "", "", nil)
		return &exitError{code: exitConfig, err: err}
	}
	defer comp.Checkpoint.Close()

	term := diag.NewTerminal(stderr, f.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(cfg.Concurrency, cfg.LLM)
	logger.DebugStart("config", "effective", "", "", effectiveKV(cfg))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	timer := logger.StartWithKV("pipeline", "run", "", "", map[string]string{"corr_id": corrID})
	sum, runErr := pipelineRun(ctx, comp, set, logger)
	if cfg.MetricsFile != "" {
		if err := diag.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("pipeline", "metrics textfile not written", "", map[string]string{"err": err.Error()})
		}
	}
	if runErr != nil {
		diag.Fail(logger, "pipeline", "first error", runErr, "", "", nil)
		term.RunFinish(false, time.Since(start))
		return &exitError{code: exitRun, err: runErr}
	}
	timer.Finish("run", int64(len(sum.Artifacts)))
	diag.IncOp("pipeline", "finish", "success")
	report(term, sum)
	term.RunFinish(true, time.Since(start))
	return nil
}

// resolveConfig layers defaults, the config file, LLMDS_* variables and changed flags.
func resolveConfig(cmd *cobra.Command, f *cliFlags, roots []string) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()

	path, raw := f.config, []byte(nil)
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
			raw = []byte(s)
		}
	}
	if path == "" && raw == nil {
		for _, name := range defaultConfigFiles {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
	}
	if path != "" || raw != nil {
		file, err := cfgpkg.Load(path, raw)
		if err != nil {
			return cfg, fmt.Errorf("%w: config %s: %v", cfgpkg.ErrInvalid, path, err)
		}
		cfg = cfgpkg.Merge(cfg, file)
	}

	env, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, env)

	fl := cmd.Flags()
	over := cfgpkg.Overlay()
	if len(roots) > 0 {
		over.Inputs = roots
	}
	over.OutputDir = f.output
	over.LLM = f.llm
	over.Concurrency = f.concurrency
	over.Samples = f.samples
	over.MaxTokens = f.maxTokens
	if fl.Changed("max-retries") {
		over.MaxRetries = f.maxRetries
	}
	if fl.Changed("invoke-timeout") {
		over.InvokeTimeoutSeconds = f.invokeTimeout
	}
	over.Dataset = cfgpkg.Dataset{Types: f.types, Mode: f.datasetFormat, Format: f.format, TRLMode: f.trlMode, TRLShape: f.trlShape}
	over.Language.Languages = f.languages
	over.Upload.RepoID = f.repoID
	over.Upload.Token = f.token
	over.Upload.Description = f.description
	over.MetricsFile = f.metricsFile
	over.Logging.Level = f.logLevel
	cfg = cfgpkg.Merge(cfg, over)

	// flags are the last layer, so booleans may switch off as well
	if fl.Changed("include-indic") {
		cfg.Language.IncludeIndic = f.includeIndic
	}
	if fl.Changed("upload") {
		cfg.Upload.Enabled = f.upload
	}
	if fl.Changed("private") {
		cfg.Upload.Private = f.private
	}
	if fl.Changed("resume") {
		cfg.Checkpoint.Resume = f.resume
	}
	return cfg, nil
}

func report(term *diag.Terminal, sum pipeline.Summary) {
	term.Info(fmt.Sprintf("files %d (skipped %d, failed %d) | chunks %d | invocations %d (failed %d) | records %d",
		sum.Files, sum.Skipped, sum.FileFailures, sum.Chunks, sum.Invocations, sum.Failures, sum.Records))
	for _, a := range sum.Artifacts {
		term.Success(a)
	}
	if sum.Uploaded > 0 || sum.UploadFailures > 0 {
		term.Info(fmt.Sprintf("uploads %d ok, %d failed", sum.Uploaded, sum.UploadFailures))
	}
	if len(sum.Artifacts) == 0 {
		term.Warn("no artifacts were written (every invocation returned zero samples)")
	}
}

// effectiveKV summarizes the run config for the debug log, without credentials.
func effectiveKV(cfg cfgpkg.Config) map[string]string {
	kv := map[string]string{
		"inputs_count":   fmt.Sprintf("%d", len(cfg.Inputs)),
		"output_dir":     cfg.OutputDir,
		"concurrency":    fmt.Sprintf("%d", cfg.Concurrency),
		"samples":        fmt.Sprintf("%d", cfg.Samples),
		"max_tokens":     fmt.Sprintf("%d", cfg.MaxTokens),
		"types":          strings.Join(cfg.Dataset.Types, ","),
		"dataset_format": cfg.Dataset.Mode,
		"format":         cfg.Dataset.Format,
		"trl":            cfg.Dataset.TRLMode + "/" + cfg.Dataset.TRLShape,
		"llm":            cfg.LLM,
		"upload":         fmt.Sprintf("%t", cfg.Upload.Enabled),
		"resume":         fmt.Sprintf("%t", cfg.Checkpoint.Resume),
	}
	if p, ok := cfg.Provider[cfg.LLM]; ok {
		kv["provider_client"] = p.Client
		var s struct {
			BaseURL string `json:"base_url"`
			Model   string `json:"model"`
		}
		_ = json.Unmarshal(p.Options, &s)
		if s.BaseURL != "" {
			kv["base_url"] = s.BaseURL
		}
		if s.Model != "" {
			kv["model"] = s.Model
		}
	}
	return kv
}

// dumpConfig prints the effective config with credentials masked.
func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(redact(c), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "effective config:\n%s\n", b)
	return err
}

func redact(c cfgpkg.Config) cfgpkg.Config {
	if c.Upload.Token != "" {
		c.Upload.Token = "***"
	}
	if len(c.Provider) == 0 {
		return c
	}
	prov := make(map[string]cfgpkg.Provider, len(c.Provider))
	for name, p := range c.Provider {
		var opts map[string]any
		if json.Unmarshal(p.Options, &opts) == nil {
			if k, ok := opts["api_key"].(string); ok && k != "" {
				opts["api_key"] = "***"
				p.Options, _ = json.Marshal(opts)
			}
		}
		prov[name] = p
	}
	c.Provider = prov
	return c
}

// preflightOutputDir checks the output directory (or its nearest existing parent)
// accepts new files before any model call is made.
func preflightOutputDir(dir string) error {
	st, err := os.Stat(dir)
	switch {
	case err == nil && !st.IsDir():
		return fmt.Errorf("path exists but is not a directory")
	case err == nil:
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(name)
	case !os.IsNotExist(err):
		return err
	}
	parent := filepath.Dir(filepath.Clean(dir))
	for {
		pst, err := os.Stat(parent)
		if err == nil {
			if !pst.IsDir() {
				return fmt.Errorf("parent %s is not a directory", parent)
			}
			break
		}
		if !os.IsNotExist(err) {
			return err
		}
		next := filepath.Dir(parent)
		if next == parent {
			return fmt.Errorf("no existing parent for %s", dir)
		}
		parent = next
	}
	tmp, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmp)
}
