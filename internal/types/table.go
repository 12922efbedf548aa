package types

import c "llmds/pkg/contract"

// Shared field helpers keep the table readable.
func req(name string) c.Field  { return c.Field{Name: name, Kind: c.KindString, Required: true} }
func opt(name string) c.Field  { return c.Field{Name: name, Kind: c.KindString} }
func meta(name string) c.Field { return c.Field{Name: name, Kind: c.KindString, Meta: true} }

func language() c.Field {
	return c.Field{Name: "language", Kind: c.KindString, Meta: true, Default: "en"}
}

func confidence() c.Field {
	return c.Field{Name: "confidence", Kind: c.KindNumber, Meta: true, Default: DefaultConfidence}
}

func turns(required bool) c.Field {
	return c.Field{Name: "turns", Kind: c.KindTurns, Required: required}
}

// DefaultConfidence is filled in for samples that omit a confidence score.
const DefaultConfidence = 0.8

// builtin is the table of supported dataset types, in presentation order.
var builtin = []c.TypeSpec{
	// legacy
	{
		Name: "qa", Category: c.CategoryLegacy,
		Description: "Question/answer pairs grounded in the passage.",
		Fields:      []c.Field{req("question"), req("answer"), opt("context"), meta("difficulty"), meta("domain"), confidence(), language()},
	},
	{
		Name: "instruction", Category: c.CategoryLegacy,
		Description: "Instruction following examples derived from the passage.",
		Fields:      []c.Field{req("instruction"), opt("input"), req("output"), opt("constraints"), meta("instruction_type"), meta("difficulty"), language()},
	},
	{
		Name: "conversation", Category: c.CategoryLegacy, Scenario: true,
		Description: "Multi-turn user/assistant dialogues about the passage.",
		Fields:      []c.Field{turns(true), opt("scenario"), meta("topic"), language()},
	},
	{
		Name: "summarization", Category: c.CategoryLegacy,
		Description: "Document/summary pairs.",
		Fields:      []c.Field{req("document"), req("summary"), meta("summary_type"), language()},
	},
	{
		Name: "classification", Category: c.CategoryLegacy,
		Description: "Text snippets with a category label.",
		Fields:      []c.Field{req("text"), req("label"), opt("rationale"), confidence(), language()},
	},
	{
		Name: "parallel_corpora", Category: c.CategoryLegacy,
		Description: "Aligned source/target translation pairs.",
		Fields:      []c.Field{req("source_text"), req("target_text"), req("source_language"), req("target_language"), meta("domain")},
	},

	// standard
	{
		Name: "alpaca_instruct", Category: c.CategoryStandard, Alias: "instruction",
		Description: "Alpaca style instruction/input/output triples.",
		Fields:      []c.Field{req("instruction"), opt("input"), req("output"), meta("instruction_type")},
	},
	{
		Name: "squad_qa", Category: c.CategoryStandard, Alias: "qa",
		Description: "SQuAD style extractive questions with the supporting context.",
		Fields: []c.Field{req("context"), req("question"), req("answer"),
			{Name: "answer_start", Kind: c.KindNumber, Meta: true}},
	},
	{
		Name: "sharegpt_chat", Category: c.CategoryStandard, Alias: "conversation", Scenario: true,
		Description: "ShareGPT style conversations.",
		Fields:      []c.Field{turns(true), opt("scenario"), meta("topic")},
	},
	{
		Name: "news_summarization", Category: c.CategoryStandard, Alias: "summarization",
		Description: "Article/highlights pairs in the CNN/DailyMail layout.",
		Fields:      []c.Field{req("article"), req("highlights")},
	},
	{
		Name: "text_classification", Category: c.CategoryStandard, Alias: "classification",
		Description: "Single label text classification.",
		Fields:      []c.Field{req("text"), req("label"), confidence()},
	},

	// modern
	{
		Name: "chain_of_thought", Category: c.CategoryModern,
		Description: "Questions answered with explicit reasoning steps.",
		Fields: []c.Field{req("question"), {Name: "reasoning_steps", Kind: c.KindStrings, Required: true},
			req("answer"), meta("difficulty"), language()},
	},
	{
		Name: "function_calling", Category: c.CategoryModern,
		Description: "User requests mapped to a tool call and its final answer.",
		Fields:      []c.Field{req("instruction"), req("function_name"), req("arguments"), req("output"), opt("function_description")},
	},
	{
		Name: "code_instruct", Category: c.CategoryModern,
		Description: "Programming tasks with code solutions.",
		Fields:      []c.Field{req("instruction"), req("code"), opt("explanation"), meta("programming_language"), meta("difficulty")},
	},
	{
		Name: "roleplay_scenario", Category: c.CategoryModern, Scenario: true,
		Description: "Persona driven role-play dialogues.",
		Fields:      []c.Field{req("scenario"), turns(true), meta("persona"), language()},
	},
	{
		Name: "preference_pairs", Category: c.CategoryModern,
		Description: "Prompts with a preferred and a rejected response.",
		Fields:      []c.Field{req("prompt"), req("chosen"), req("rejected"), opt("label"), meta("criterion")},
	},

	// indic
	{
		Name: "indic_qa", Category: c.CategoryIndic, Alias: "qa",
		Description: "Question/answer pairs written in an Indic language.",
		Fields:      []c.Field{req("question"), req("answer"), req("language"), opt("transliteration"), meta("difficulty")},
	},
	{
		Name: "indic_translation", Category: c.CategoryIndic, Alias: "parallel_corpora",
		Description: "English to Indic language translation pairs.",
		Fields:      []c.Field{req("source_text"), req("target_text"), req("source_language"), req("target_language"), meta("domain")},
	},
	{
		Name: "indic_instruct", Category: c.CategoryIndic, Alias: "instruction",
		Description: "Instruction following examples in an Indic language.",
		Fields:      []c.Field{req("instruction"), opt("input"), req("output"), req("language"), meta("instruction_type")},
	},
	{
		Name: "indic_conversation", Category: c.CategoryIndic, Alias: "conversation", Scenario: true,
		Description: "Dialogues conducted in an Indic language.",
		Fields:      []c.Field{turns(true), opt("scenario"), req("language")},
	},
}
