package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"llmds/internal/aggregate"
	"llmds/internal/checkpoint"
	"llmds/internal/convert"
	"llmds/internal/diag"
	"llmds/internal/generate"
	"llmds/internal/hub"
	"llmds/internal/prompt"
	"llmds/internal/rate"
	"llmds/internal/scheduler"
	"llmds/internal/serialize"
	"llmds/internal/types"
	"llmds/pkg/contract"
)

// - Single concurrency point: only the scheduler fans out; components are synchronous.
// - Files are processed one after another; artifacts of a file are written after all
//   of its invocations settle.
// - Fatal: unreadable root, no content file, a file with zero chunks, cancellation.
// - Per-file: split/chunk/serialize failures skip that file; upload failures are logged.

// Uploader pushes the artifacts of one input file to a dataset hub.
type Uploader interface {
	Upload(ctx context.Context, dir, basename string, files []string) error
	RepoID() string
}

// Components: the atomic components of a run plus optional sinks.
type Components struct {
	Reader        contract.Reader
	Splitter      contract.Splitter
	Chunker       contract.Chunker
	PromptBuilder contract.PromptBuilder
	LLM           contract.LLMClient
	Decoder       contract.Decoder
	Writer        contract.Writer

	// Registry defaults to types.Default().
	Registry *types.Registry
	// Hub is optional; nil disables upload.
	Hub Uploader
	// Checkpoint is optional; nil disables resume bookkeeping.
	Checkpoint *checkpoint.Store
}

// Settings: run parameters.
type Settings struct {
	// Inputs: roots; none or a single "-" reads STDIN.
	Inputs    []string
	OutputDir string

	Concurrency int
	// Samples requested per (chunk, type).
	Samples int
	// MaxTokens: chunk budget before the prompt overhead; <= 0 disables budgeting.
	MaxTokens int
	Estimate  contract.TokenEstimator

	// Types and Mode are the raw request resolved through the registry.
	Types  []string
	Mode   string
	Lang   contract.LanguageContext
	Format string
	Target convert.Target

	Policy  generate.Policy
	Gate    rate.Gate
	GateKey rate.LimitKey

	// Resume skips files whose checkpoint fingerprint matches.
	Resume bool
	// LLMName is shown in progress output.
	LLMName string
}

// Summary: counters of one run.
type Summary struct {
	Files          int
	Skipped        int // resumed from checkpoint
	FileFailures   int
	Chunks         int
	Invocations    int
	Failures       int
	Records        int
	Artifacts      []string
	Uploaded       int
	UploadFailures int
}

// Run executes Reader → Splitter → Chunker → Scheduler(Invoker) → Aggregator →
// FilterForOutput → Convert → Serialize → (Checkpoint, Upload) for every input file.
// Only fatal conditions return an error; the Summary is filled up to that point.
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Summary, error) {
	var sum Summary
	if err := sanity(&comp, &set); err != nil {
		return sum, fmt.Errorf("sanity: %w", err)
	}
	r, err := newRun(comp, set, logger)
	if err != nil {
		return sum, err
	}

	rtimer := logger.Start("reader", "iterate")
	err = comp.Reader.Iterate(ctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		sum.Files++
		return r.file(ctx, fid, rc, &sum)
	})
	if err != nil {
		diag.Fail(logger, "pipeline", "run aborted", err, "", "", nil)
		return sum, err
	}
	rtimer.Finish("iterate", int64(sum.Files))
	if sum.Files == 0 {
		return sum, fmt.Errorf("pipeline: %w: no content files under %s", contract.ErrNoContent, strings.Join(set.Inputs, ", "))
	}
	return sum, nil
}

// run holds the per-run state shared by every file.
type run struct {
	comp      Components
	set       Settings
	logger    *diag.Logger
	specs     []contract.TypeSpec
	requested map[contract.DatasetType]bool
	typeNames []string
	effMax    int
	invoker   *generate.Invoker
	ser       *serialize.Serializer
	stdin     bool
	bases     map[string]contract.FileID
}

func newRun(comp Components, set Settings, logger *diag.Logger) (*run, error) {
	reg := comp.Registry
	specs, unknown := reg.Resolve(set.Types, set.Mode)
	for _, u := range unknown {
		logger.Warn("pipeline", "unknown dataset type ignored", "", map[string]string{"type": u})
		diag.GetTerminal().Warn(fmt.Sprintf("unknown dataset type %q ignored", u))
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("pipeline: %w: no dataset type to generate", contract.ErrInvalidInput)
	}
	r := &run{
		comp:      comp,
		set:       set,
		logger:    logger,
		specs:     specs,
		requested: reg.Requested(set.Types, set.Mode),
		stdin:     len(set.Inputs) == 0 || (len(set.Inputs) == 1 && set.Inputs[0] == "-"),
		bases:     map[string]contract.FileID{},
	}
	for _, s := range specs {
		r.typeNames = append(r.typeNames, string(s.Name))
	}

	// reserve the fixed prompt overhead before chunking
	r.effMax = set.MaxTokens
	if set.MaxTokens > 0 {
		eff, overhead := prompt.EffectiveMaxTokens(comp.PromptBuilder, set.Estimate, set.MaxTokens)
		if eff <= 0 {
			return nil, fmt.Errorf("pipeline: %w: effective token budget <= 0 after prompt overhead %d", contract.ErrBudgetExceeded, overhead)
		}
		r.effMax = eff
	}

	model := &generate.Model{
		Prompt:   comp.PromptBuilder,
		LLM:      comp.LLM,
		Decoder:  comp.Decoder,
		Gate:     set.Gate,
		GateKey:  set.GateKey,
		Estimate: set.Estimate,
		Logger:   logger,
	}
	r.invoker = generate.NewInvoker(model, set.Policy, logger)
	r.ser = &serialize.Serializer{W: comp.Writer, Logger: logger}
	return r, nil
}

// file processes one input. Returned errors abort the run.
func (r *run) file(ctx context.Context, fid contract.FileID, rc io.Reader, sum *Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	base := fid.Base()
	if prev, dup := r.bases[base]; dup {
		r.logger.Warn("pipeline", "basename collision, artifacts will be overwritten", string(fid), map[string]string{"previous": string(prev)})
	}
	r.bases[base] = fid

	fingerprint := r.fingerprint(fid)
	if r.set.Resume && fingerprint != "" {
		if e, ok := r.comp.Checkpoint.Done(string(fid), fingerprint); ok {
			sum.Skipped++
			sum.Artifacts = append(sum.Artifacts, e.Artifacts...)
			r.logger.Warn("pipeline", "already completed, skipped", string(fid), map[string]string{"completed_at": e.CompletedAt.Format(time.RFC3339)})
			diag.GetTerminal().Info(fmt.Sprintf("%s: already completed, skipped", fid))
			return nil
		}
	}

	stimer := r.logger.StartWith("splitter", "split", string(fid), "")
	recs, err := r.comp.Splitter.Split(ctx, fid, rc)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		diag.Fail(r.logger, "splitter", "split failed, file skipped", err, string(fid), "", nil)
		diag.GetTerminal().Error(fmt.Sprintf("%s: %v", fid, err))
		sum.FileFailures++
		r.forget(fid)
		return nil
	}
	stimer.Finish("split", int64(len(recs)))

	ctimer := r.logger.StartWith("chunker", "make", string(fid), "")
	chunks, err := r.comp.Chunker.Make(ctx, recs, contract.ChunkLimit{MaxTokens: r.effMax})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		diag.Fail(r.logger, "chunker", "chunking failed, file skipped", err, string(fid), "", nil)
		diag.GetTerminal().Error(fmt.Sprintf("%s: %v", fid, err))
		sum.FileFailures++
		r.forget(fid)
		return nil
	}
	ctimer.Finish("make", int64(len(chunks)))
	if len(chunks) == 0 {
		return fmt.Errorf("pipeline: %w: %s produced zero chunks", contract.ErrNoContent, fid)
	}
	sum.Chunks += len(chunks)

	term := diag.GetTerminal()
	term.FileStart(string(fid), len(chunks)*len(r.specs))
	fileStart := time.Now()
	ok := false
	defer func() { term.FileFinish(ok, time.Since(fileStart)) }()

	agg := aggregate.New()
	sch := &scheduler.Scheduler{
		Invoker:     r.invoker,
		Concurrency: r.set.Concurrency,
		Count:       r.set.Samples,
		OnSettle:    func(o scheduler.Outcome) { term.Advance(o.OK()) },
		Logger:      r.logger,
	}
	rep := sch.Run(ctx, chunks, r.specs, r.set.Lang, agg)
	results := agg.Close()
	sum.Invocations += rep.Invocations
	sum.Failures += rep.Failures
	if err := ctx.Err(); err != nil {
		return err
	}

	written, records, werr := r.write(ctx, fid, results)
	if werr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		diag.Fail(r.logger, "serializer", "write failed, partial artifacts removed", werr, string(fid), "", nil)
		diag.GetTerminal().Error(fmt.Sprintf("%s: %v", fid, werr))
		sum.FileFailures++
		r.forget(fid)
		return nil
	}
	var artifacts, files []string
	for _, a := range written {
		artifacts = append(artifacts, a.Path)
		files = append(files, a.Files()...)
	}
	sum.Artifacts = append(sum.Artifacts, artifacts...)
	sum.Records += records
	ok = true

	uploaded := false
	if r.comp.Hub != nil && len(files) > 0 {
		if uerr := r.comp.Hub.Upload(ctx, r.set.OutputDir, base, files); uerr != nil {
			sum.UploadFailures++
			diag.Fail(r.logger, "hub", "upload failed", uerr, string(fid), "", map[string]string{"repo": r.comp.Hub.RepoID()})
			term.Error(fmt.Sprintf("upload of %s failed: %v", base, uerr))
			if hint := hub.Hint(uerr); hint != "" {
				term.Warn(hint)
			}
		} else {
			sum.Uploaded++
			uploaded = true
			term.Success(fmt.Sprintf("uploaded %d files of %s to %s", len(files), base, r.comp.Hub.RepoID()))
		}
	}

	if fingerprint != "" && r.comp.Checkpoint != nil {
		e := checkpoint.Entry{FileID: string(fid), Fingerprint: fingerprint, Artifacts: artifacts, Samples: records, Uploaded: uploaded}
		if err := r.comp.Checkpoint.Mark(e); err != nil {
			r.logger.Warn("checkpoint", "mark failed", string(fid), map[string]string{"err": err.Error()})
		}
	}
	return nil
}

// write filters, converts and serializes the results of one file, one artifact per type.
// On error the artifacts already written for the file are discarded.
func (r *run) write(ctx context.Context, fid contract.FileID, results aggregate.ResultsMap) ([]serialize.Artifact, int, error) {
	reg := r.comp.Registry
	out, dropped := aggregate.FilterForOutput(results, r.requested, reg)
	for _, t := range dropped {
		r.logger.Warn("aggregate", "no samples, no artifact", string(fid), map[string]string{"type": string(t)})
	}
	var (
		written []serialize.Artifact
		records int
	)
	for _, t := range aggregate.SortedTypes(out, reg) {
		spec, ok := reg.Lookup(t)
		if !ok {
			continue
		}
		recs, skipped := convert.ConvertAll(spec, out[t], r.set.Target)
		if skipped > 0 {
			r.logger.Warn("convert", "samples not convertible to target, skipped", string(fid), map[string]string{
				"type": string(t), "target": r.set.Target.String(), "skipped": fmt.Sprintf("%d", skipped),
			})
		}
		a, err := r.ser.Write(ctx, recs, fid.Base()+"_"+string(t), r.set.Format)
		if errors.Is(err, serialize.ErrNothingToWrite) {
			r.logger.Warn("serializer", "no records after conversion, no artifact", string(fid), map[string]string{"type": string(t)})
			continue
		}
		if err != nil {
			// cancellation must not block the cleanup
			cctx := context.WithoutCancel(ctx)
			for _, w := range written {
				r.ser.Discard(cctx, w)
			}
			return nil, 0, fmt.Errorf("serialize %s: %w", t, err)
		}
		written = append(written, a)
		records += len(recs)
	}
	return written, records, nil
}

// forget drops the checkpoint entry of a file that failed, so a stale entry from
// an earlier run never outlives the artifacts it describes.
func (r *run) forget(fid contract.FileID) {
	if !r.set.Resume || r.stdin || r.comp.Checkpoint == nil {
		return
	}
	if err := r.comp.Checkpoint.Forget(string(fid)); err != nil {
		r.logger.Warn("checkpoint", "forget failed", string(fid), map[string]string{"err": err.Error()})
	}
}

// fingerprint is empty for STDIN and for files that cannot be stat'ed.
func (r *run) fingerprint(fid contract.FileID) string {
	if r.stdin || r.comp.Checkpoint == nil {
		return ""
	}
	fi, err := os.Stat(string(fid))
	if err != nil {
		return ""
	}
	return checkpoint.Fingerprint(string(fid), fi.Size(), fi.ModTime(), checkpoint.Shape{
		Generated: r.typeNames,
		Requested: types.Names(r.requested),
		Mode:      r.set.Mode,
		Samples:   r.set.Samples,
		Format:    r.set.Format,
		Target:    r.set.Target.String(),
	})
}

func sanity(c *Components, s *Settings) error {
	if c.Reader == nil || c.Splitter == nil || c.Chunker == nil || c.PromptBuilder == nil || c.LLM == nil || c.Decoder == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if c.Registry == nil {
		c.Registry = types.Default()
	}
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	if s.Samples < 1 {
		return fmt.Errorf("pipeline: %w: samples must be >= 1", contract.ErrInvalidInput)
	}
	if s.Estimate == nil {
		s.Estimate = prompt.MakeEstimator(0)
	}
	if s.Format == "" {
		s.Format = string(serialize.FormatJSONL)
	}
	if s.Target == (convert.Target{}) {
		s.Target = convert.DefaultTarget
	}
	return nil
}
