package hub

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// CardInfo: inputs of the generated dataset card.
type CardInfo struct {
	RepoID      string
	Basename    string
	Description string
	Files       []CardFile
}

// CardFile: one artifact listed on the card.
type CardFile struct {
	Path    string // path inside the repository
	Type    string // dataset type
	Format  string
	Records int // 0 when unknown
}

type cardConfig struct {
	ConfigName string `yaml:"config_name"`
	DataFiles  string `yaml:"data_files"`
}

type frontMatter struct {
	PrettyName     string       `yaml:"pretty_name"`
	Tags           []string     `yaml:"tags"`
	TaskCategories []string     `yaml:"task_categories"`
	SizeCategories []string     `yaml:"size_categories,omitempty"`
	Configs        []cardConfig `yaml:"configs,omitempty"`
}

// Card renders README.md: YAML front matter understood by the hub followed by a short
// markdown description and a file table.
func Card(info CardInfo) (string, error) {
	files := append([]CardFile(nil), info.Files...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	total := 0
	fm := frontMatter{
		PrettyName:     info.Basename,
		Tags:           []string{"synthetic", "llmds", "fine-tuning"},
		TaskCategories: []string{"text-generation", "question-answering"},
	}
	for _, f := range files {
		total += f.Records
		if f.Type != "" && dataFormat(f.Format) {
			fm.Configs = append(fm.Configs, cardConfig{ConfigName: f.Type, DataFiles: f.Path})
		}
	}
	if total > 0 {
		fm.SizeCategories = []string{sizeCategory(total)}
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return "", fmt.Errorf("hub: card front matter: %w", err)
	}
	_ = enc.Close()
	b.WriteString("---\n\n")

	fmt.Fprintf(&b, "# %s\n\n", info.Basename)
	desc := strings.TrimSpace(info.Description)
	if desc == "" {
		desc = fmt.Sprintf("Synthetic fine-tuning data generated from `%s`.", info.Basename)
	}
	b.WriteString(desc + "\n\n")
	b.WriteString("## Files\n\n| File | Type | Format | Records |\n| :--- | :--- | :--- | ---: |\n")
	for _, f := range files {
		rec := "-"
		if f.Records > 0 {
			rec = fmt.Sprintf("%d", f.Records)
		}
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s |\n", f.Path, f.Type, f.Format, rec)
	}
	b.WriteString("\n## Usage\n\n```python\nfrom datasets import load_dataset\n\n")
	fmt.Fprintf(&b, "ds = load_dataset(%q)\n```\n", info.RepoID)
	return b.String(), nil
}

// dataFormat reports whether the hub loader reads the format directly.
func dataFormat(f string) bool {
	switch f {
	case "json", "jsonl", "csv", "parquet":
		return true
	}
	return false
}

func sizeCategory(n int) string {
	switch {
	case n < 1000:
		return "n<1K"
	case n < 10000:
		return "1K<n<10K"
	case n < 100000:
		return "10K<n<100K"
	default:
		return "100K<n<1M"
	}
}
