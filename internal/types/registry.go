package types

import (
	"fmt"
	"sort"
	"strings"

	"llmds/pkg/contract"
)

// Mode shortcuts accepted by Resolve besides the category names.
const (
	ModeDefault = ""    // implicit activation of DefaultCategory
	ModeAll     = "all" // every category
)

// DefaultCategory is activated when no dataset format mode is chosen.
const DefaultCategory = contract.CategoryLegacy

// Registry: immutable lookup table of dataset types.
// Invariants (checked by New):
// - names are unique and every type has a known category;
// - alias targets exist and alias edges form a forest;
// - every alias chain ends at exactly one legacy type.
type Registry struct {
	specs []contract.TypeSpec
	index map[contract.DatasetType]int
	canon map[contract.DatasetType]contract.DatasetType
}

var defaultRegistry = MustNew(builtin)

// Default returns the built-in registry.
func Default() *Registry { return defaultRegistry }

// MustNew is New that panics on an invalid table.
func MustNew(specs []contract.TypeSpec) *Registry {
	r, err := New(specs)
	if err != nil {
		panic(err)
	}
	return r
}

// New validates specs and builds a registry.
func New(specs []contract.TypeSpec) (*Registry, error) {
	r := &Registry{
		specs: make([]contract.TypeSpec, len(specs)),
		index: make(map[contract.DatasetType]int, len(specs)),
		canon: make(map[contract.DatasetType]contract.DatasetType),
	}
	copy(r.specs, specs)
	for i, s := range r.specs {
		if strings.TrimSpace(string(s.Name)) == "" {
			return nil, fmt.Errorf("types: entry %d: empty name: %w", i, contract.ErrInvariantViolation)
		}
		if !knownCategory(s.Category) {
			return nil, fmt.Errorf("types: %s: unknown category %q: %w", s.Name, s.Category, contract.ErrInvariantViolation)
		}
		if _, dup := r.index[s.Name]; dup {
			return nil, fmt.Errorf("types: duplicate type %s: %w", s.Name, contract.ErrInvariantViolation)
		}
		r.index[s.Name] = i
	}
	for _, s := range r.specs {
		if s.Alias == "" {
			if s.Category == contract.CategoryLegacy {
				r.canon[s.Name] = s.Name
			}
			continue
		}
		root, err := r.walkAlias(s.Name)
		if err != nil {
			return nil, err
		}
		r.canon[s.Name] = root
	}
	return r, nil
}

// walkAlias follows alias edges from t; a revisit means a cycle.
func (r *Registry) walkAlias(t contract.DatasetType) (contract.DatasetType, error) {
	seen := map[contract.DatasetType]bool{}
	cur := t
	for {
		if seen[cur] {
			return "", fmt.Errorf("types: alias cycle through %s: %w", cur, contract.ErrInvariantViolation)
		}
		seen[cur] = true
		i, ok := r.index[cur]
		if !ok {
			return "", fmt.Errorf("types: %s aliases unknown type %s: %w", t, cur, contract.ErrInvariantViolation)
		}
		s := r.specs[i]
		if s.Alias == "" {
			if s.Category != contract.CategoryLegacy {
				return "", fmt.Errorf("types: alias chain of %s ends at non-legacy %s: %w", t, cur, contract.ErrInvariantViolation)
			}
			return cur, nil
		}
		cur = s.Alias
	}
}

func knownCategory(c contract.Category) bool {
	for _, k := range contract.Categories {
		if k == c {
			return true
		}
	}
	return false
}

// Lookup returns the spec of t.
func (r *Registry) Lookup(t contract.DatasetType) (contract.TypeSpec, bool) {
	i, ok := r.index[t]
	if !ok {
		return contract.TypeSpec{}, false
	}
	return r.specs[i], true
}

// Types returns every spec in table order.
func (r *Registry) Types() []contract.TypeSpec {
	out := make([]contract.TypeSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Category returns the specs of one category in table order.
func (r *Registry) Category(cat contract.Category) []contract.TypeSpec {
	var out []contract.TypeSpec
	for _, s := range r.specs {
		if s.Category == cat {
			out = append(out, s)
		}
	}
	return out
}

// Canonicalize maps t to the legacy type it satisfies for output inclusion.
// Legacy types map to themselves; modern and unknown types have no canonical alias.
func (r *Registry) Canonicalize(t contract.DatasetType) (contract.DatasetType, bool) {
	c, ok := r.canon[t]
	return c, ok
}

// ValidMode reports whether mode is accepted by Resolve.
func ValidMode(mode string) bool {
	m := strings.ToLower(strings.TrimSpace(mode))
	if m == ModeDefault || m == ModeAll {
		return true
	}
	return knownCategory(contract.Category(m))
}

// modeCategories expands a mode; implicit reports whether it came from the default.
func modeCategories(mode string) (cats []contract.Category, implicit bool) {
	m := strings.ToLower(strings.TrimSpace(mode))
	switch m {
	case ModeDefault:
		return []contract.Category{DefaultCategory}, true
	case ModeAll:
		return contract.Categories, false
	default:
		if knownCategory(contract.Category(m)) {
			return []contract.Category{contract.Category(m)}, false
		}
		return nil, false
	}
}

// Resolve expands a user request into the set of types to execute:
// explicit types ∪ every type of the mode's categories (union semantics).
// Unknown type strings are returned separately for a warning and never fail.
// The result is de-duplicated and in table order.
func (r *Registry) Resolve(requested []string, mode string) (specs []contract.TypeSpec, unknown []string) {
	want := map[contract.DatasetType]bool{}
	for _, raw := range requested {
		name := contract.DatasetType(strings.ToLower(strings.TrimSpace(raw)))
		if name == "" {
			continue
		}
		if _, ok := r.index[name]; !ok {
			unknown = append(unknown, raw)
			continue
		}
		want[name] = true
	}
	cats, _ := modeCategories(mode)
	for _, cat := range cats {
		for _, s := range r.Category(cat) {
			want[s.Name] = true
		}
	}
	for _, s := range r.specs {
		if want[s.Name] {
			specs = append(specs, s)
		}
	}
	return specs, unknown
}

// Requested returns the output request set: explicit known types plus the types of an
// explicitly chosen mode. The implicit default activation never widens output, so
// asking for parallel_corpora alone does not surface qa results generated because
// the legacy category ran by default.
func (r *Registry) Requested(requested []string, mode string) map[contract.DatasetType]bool {
	out := map[contract.DatasetType]bool{}
	for _, raw := range requested {
		name := contract.DatasetType(strings.ToLower(strings.TrimSpace(raw)))
		if _, ok := r.index[name]; ok {
			out[name] = true
		}
	}
	cats, implicit := modeCategories(mode)
	if !implicit {
		for _, cat := range cats {
			for _, s := range r.Category(cat) {
				out[s.Name] = true
			}
		}
	}
	return out
}

// Names returns sorted type names of a set.
func Names(set map[contract.DatasetType]bool) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}
