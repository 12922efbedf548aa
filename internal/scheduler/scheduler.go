package scheduler

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"llmds/internal/diag"
	"llmds/internal/generate"
	"llmds/pkg/contract"
)

// Invoker settles one generation request; it never fails past its boundary.
type Invoker interface {
	Invoke(ctx context.Context, req contract.GenerationRequest) generate.Result
}

// Sink receives the samples of every settled sub-task.
type Sink interface {
	Merge(chunk contract.Index, t contract.DatasetType, samples []contract.Sample)
}

// Outcome: tagged result of one (chunk, type) sub-task.
type Outcome struct {
	FileID   contract.FileID
	Chunk    contract.Index
	Type     contract.DatasetType
	Samples  []contract.Sample
	Err      error
	Attempts int
}

// OK reports success (a success may still carry zero samples).
func (o Outcome) OK() bool { return o.Err == nil }

// Report: aggregate counts of one Run.
// Invocations is always Chunks × |types|.
type Report struct {
	Chunks         int
	Invocations    int
	Failures       int
	FailuresByType map[contract.DatasetType]int
	Samples        map[contract.DatasetType]int
}

// Scheduler: chunk-level bounded fan-out.
//   - One task per chunk, admitted in index order through a pool of Concurrency slots.
//   - A chunk task starts one sub-task per type at once and settles only after all of them.
//   - Sub-task failures never cancel siblings, the chunk or the run.
//   - In-flight invocations can reach Concurrency × |types|.
type Scheduler struct {
	Invoker     Invoker
	Concurrency int
	// Count: samples requested per (chunk, type); fixed for the whole run.
	Count int
	// OnSettle is called once per settled sub-task from a single goroutine.
	OnSettle func(Outcome)
	Logger   *diag.Logger
}

// Run executes len(chunks)×len(specs) invocations and feeds every outcome to sink.
// Outcomes are delivered from one collector goroutine, so sink and OnSettle see no
// concurrent calls. Append order across chunks is unspecified.
func (s *Scheduler) Run(ctx context.Context, chunks []contract.Chunk, specs []contract.TypeSpec, lang contract.LanguageContext, sink Sink) Report {
	rep := Report{
		Chunks:         len(chunks),
		FailuresByType: map[contract.DatasetType]int{},
		Samples:        map[contract.DatasetType]int{},
	}
	if len(chunks) == 0 || len(specs) == 0 {
		return rep
	}
	limit := s.Concurrency
	if limit < 1 {
		limit = 1
	}

	outcomes := make(chan Outcome, limit*len(specs))
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for o := range outcomes {
			rep.Invocations++
			if o.Err != nil {
				rep.Failures++
				rep.FailuresByType[o.Type]++
			} else {
				rep.Samples[o.Type] += len(o.Samples)
			}
			if sink != nil {
				sink.Merge(o.Chunk, o.Type, o.Samples)
			}
			if s.OnSettle != nil {
				s.OnSettle(o)
			}
		}
	}()

	var g errgroup.Group
	g.SetLimit(limit)
	for _, ch := range chunks {
		ch := ch
		// Go blocks while the pool is full, which admits chunks in index order.
		g.Go(func() error {
			s.runChunk(ctx, ch, specs, lang, outcomes)
			return nil
		})
	}
	_ = g.Wait()
	close(outcomes)
	<-collected
	return rep
}

// runChunk: Queued → Running(fan-out) → Settled.
func (s *Scheduler) runChunk(ctx context.Context, ch contract.Chunk, specs []contract.TypeSpec, lang contract.LanguageContext, out chan<- Outcome) {
	timer := s.Logger.StartWithKV("scheduler", "chunk", string(ch.FileID), fmt.Sprintf("%d", ch.Index), map[string]string{
		"types": fmt.Sprintf("%d", len(specs)),
	})
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0
	for _, spec := range specs {
		spec := spec
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := contract.GenerationRequest{Chunk: ch, Type: spec, Count: s.Count, Lang: lang}
			res := s.invoke(ctx, req)
			if res.Err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
			out <- Outcome{
				FileID:   ch.FileID,
				Chunk:    ch.Index,
				Type:     spec.Name,
				Samples:  res.Samples,
				Err:      res.Err,
				Attempts: res.Attempts,
			}
		}()
	}
	wg.Wait()
	timer.Finish("settled", int64(len(specs)-failed))
}

// invoke guards against a nil invoker so the fan-out count stays exact.
func (s *Scheduler) invoke(ctx context.Context, req contract.GenerationRequest) generate.Result {
	if s.Invoker == nil {
		return generate.Result{Err: fmt.Errorf("scheduler: %w: no invoker", contract.ErrInvalidInput)}
	}
	return s.Invoker.Invoke(ctx, req)
}
