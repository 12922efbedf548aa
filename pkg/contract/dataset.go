package contract

// DatasetType: identifier of one target sample schema (qa, alpaca_instruct, ...).
type DatasetType string

// Category: non-overlapping partition of dataset types.
type Category string

const (
	CategoryLegacy   Category = "legacy"
	CategoryStandard Category = "standard"
	CategoryModern   Category = "modern"
	CategoryIndic    Category = "indic"
)

// Categories lists every category in presentation order.
var Categories = []Category{CategoryLegacy, CategoryStandard, CategoryModern, CategoryIndic}

// FieldKind: declared value shape of a sample field.
type FieldKind string

const (
	KindString  FieldKind = "string"
	KindNumber  FieldKind = "number"
	KindStrings FieldKind = "strings" // list of strings
	KindTurns   FieldKind = "turns"   // list of {role, content}
)

// Field: one declared field of a dataset type.
// Meta fields are auxiliary (difficulty, language, domain...) and land in the
// converted record's metadata object. Default is applied by post-processing when the
// field is optional and missing.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
	Meta     bool
	Default  any
}

// TypeSpec: static description of a dataset type.
// Constraints:
// - exactly one Category;
// - Alias is empty or names another type (the alias graph is a forest rooted at legacy types);
// - Scenario types get a system turn in conversational output.
type TypeSpec struct {
	Name        DatasetType
	Category    Category
	Alias       DatasetType
	Description string
	Fields      []Field
	Scenario    bool
}

// Field returns the declared field by name.
func (t TypeSpec) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// LanguageContext: process-wide language inputs threaded through every request of a run.
type LanguageContext struct {
	Languages    []string
	IncludeIndic bool
}

// GenerationRequest: one invocation of the model collaborator for (chunk, type).
type GenerationRequest struct {
	Chunk Chunk
	Type  TypeSpec
	Count int
	Lang  LanguageContext
}

// Sample: type-specific structured object produced by the model collaborator.
type Sample map[string]any

// Clone returns a shallow copy.
func (s Sample) Clone() Sample {
	if s == nil {
		return nil
	}
	out := make(Sample, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// OutputRecord: converted record ready for serialization; never mutated after creation.
type OutputRecord map[string]any

// Turn: one conversational message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
