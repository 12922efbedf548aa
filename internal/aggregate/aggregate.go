package aggregate

import (
	"sort"
	"sync"

	"llmds/internal/types"
	"llmds/pkg/contract"
)

// ResultsMap: per-type samples accumulated across the chunks of one file.
// Append only; order across chunks is unspecified.
type ResultsMap map[contract.DatasetType][]contract.Sample

// Count returns the number of samples of t.
func (m ResultsMap) Count(t contract.DatasetType) int { return len(m[t]) }

type mergeMsg struct {
	chunk   contract.Index
	typ     contract.DatasetType
	samples []contract.Sample
}

type key struct {
	chunk contract.Index
	typ   contract.DatasetType
}

// Aggregator: actor owning one ResultsMap.
// Merge may be called from any goroutine; a single reducer goroutine applies the
// appends. A repeated (chunk, type) key is ignored, so Merge is idempotent.
// Every settled (chunk, type) gets an entry, possibly empty.
type Aggregator struct {
	in     chan mergeMsg
	done   chan ResultsMap
	once   sync.Once
	closed chan struct{}
	mu     sync.RWMutex // guards sends against Close
	result ResultsMap
}

// New starts the reducer.
func New() *Aggregator {
	a := &Aggregator{
		in:     make(chan mergeMsg, 64),
		done:   make(chan ResultsMap, 1),
		closed: make(chan struct{}),
	}
	go a.reduce()
	return a
}

func (a *Aggregator) reduce() {
	res := ResultsMap{}
	seen := map[key]bool{}
	for m := range a.in {
		k := key{m.chunk, m.typ}
		if seen[k] {
			continue
		}
		seen[k] = true
		if _, ok := res[m.typ]; !ok {
			res[m.typ] = []contract.Sample{}
		}
		res[m.typ] = append(res[m.typ], m.samples...)
	}
	a.done <- res
}

// Merge appends samples of (chunk, t). Calls after Close are dropped.
func (a *Aggregator) Merge(chunk contract.Index, t contract.DatasetType, samples []contract.Sample) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	select {
	case <-a.closed:
		return
	default:
	}
	cp := make([]contract.Sample, len(samples))
	copy(cp, samples)
	a.in <- mergeMsg{chunk: chunk, typ: t, samples: cp}
}

// Close drains pending merges and returns the final map. Safe to call repeatedly.
func (a *Aggregator) Close() ResultsMap {
	a.once.Do(func() {
		a.mu.Lock()
		close(a.closed)
		close(a.in)
		a.mu.Unlock()
		a.result = <-a.done
	})
	return a.result
}

// FilterForOutput keeps the entries whose type is requested, or whose canonical
// alias is requested. Entries with zero samples are dropped and returned sorted in
// the second value so the caller can log them.
func FilterForOutput(results ResultsMap, requested map[contract.DatasetType]bool, reg *types.Registry) (map[contract.DatasetType][]contract.Sample, []contract.DatasetType) {
	kept := map[contract.DatasetType][]contract.Sample{}
	var empty []contract.DatasetType
	for t, samples := range results {
		if !Wanted(t, requested, reg) {
			continue
		}
		if len(samples) == 0 {
			empty = append(empty, t)
			continue
		}
		kept[t] = samples
	}
	sort.Slice(empty, func(i, j int) bool { return empty[i] < empty[j] })
	return kept, empty
}

// Wanted reports whether t is requested directly or through its canonical alias.
func Wanted(t contract.DatasetType, requested map[contract.DatasetType]bool, reg *types.Registry) bool {
	if requested[t] {
		return true
	}
	if reg == nil {
		return false
	}
	if c, ok := reg.Canonicalize(t); ok && requested[c] {
		return true
	}
	return false
}

// Cap reports whether no type in results exceeds chunks × perChunk samples.
func Cap(results ResultsMap, chunks, perChunk int) bool {
	limit := chunks * perChunk
	for _, s := range results {
		if len(s) > limit {
			return false
		}
	}
	return true
}

// SortedTypes returns the keys of m in table order of reg (unknown types last, by name).
func SortedTypes(m map[contract.DatasetType][]contract.Sample, reg *types.Registry) []contract.DatasetType {
	pos := map[contract.DatasetType]int{}
	if reg != nil {
		for i, s := range reg.Types() {
			pos[s.Name] = i
		}
	}
	out := make([]contract.DatasetType, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, oki := pos[out[i]]
		pj, okj := pos[out[j]]
		switch {
		case oki && okj:
			return pi < pj
		case oki != okj:
			return oki
		default:
			return out[i] < out[j]
		}
	})
	return out
}
