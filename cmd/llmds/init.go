package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	cfgpkg "llmds/internal/config"
	"llmds/internal/hub"
)

func newInitCmd(stdout, stderr io.Writer) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "init-config [dir]",
		Short: "Write a default config and a .env template (existing files are kept)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return &exitError{code: exitConfig, err: fmt.Errorf("init-config: %w", err)}
			}
			name := "llmds.json"
			if asYAML {
				name = "llmds.yaml"
			}
			cfgPath := filepath.Join(dir, name)
			wrote, err := writeConfig(cfgPath, cfgpkg.DefaultTemplateConfig(), asYAML)
			if err != nil {
				return &exitError{code: exitConfig, err: fmt.Errorf("init-config: %w", err)}
			}
			reportWrite(stdout, cfgPath, wrote)

			envPath := filepath.Join(dir, ".env")
			wrote, err = writeDotEnv(envPath)
			if err != nil {
				// the config is usable without the template
				fmt.Fprintf(stderr, "warning: .env not written: %v\n", err)
				return nil
			}
			reportWrite(stdout, envPath, wrote)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "write llmds.yaml instead of llmds.json")
	return cmd
}

func reportWrite(w io.Writer, path string, wrote bool) {
	if wrote {
		fmt.Fprintf(w, "wrote %s\n", path)
		return
	}
	fmt.Fprintf(w, "kept existing %s\n", path)
}

// writeConfig writes c to path unless the file exists; "-" writes to stdout.
func writeConfig(path string, c cfgpkg.Config, asYAML bool) (bool, error) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return false, err
	}
	if asYAML {
		if b, err = jsonToYAML(b); err != nil {
			return false, err
		}
	} else {
		b = append(b, '\n')
	}
	if path == "-" {
		_, err = os.Stdout.Write(b)
		return err == nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return false, err
	}
	return true, nil
}

// jsonToYAML re-encodes a JSON document as block-style YAML, keeping key order.
func jsonToYAML(b []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	blockStyle(&doc)
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func blockStyle(n *yaml.Node) {
	switch n.Kind {
	case yaml.MappingNode, yaml.SequenceNode:
		// empty collections stay in flow style ({} and [])
		if len(n.Content) > 0 {
			n.Style = 0
		}
	case yaml.ScalarNode:
		// JSON strings arrive double quoted; unquote only what survives a plain
		// or single-quoted round trip
		if n.Style == yaml.DoubleQuotedStyle && plainSafe(n.Value) {
			n.Style = 0
		}
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func plainSafe(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// writeDotEnv writes a .env template listing the supported overrides; an existing file is kept.
func writeDotEnv(path string) (bool, error) {
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		return false, nil
	} else if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	p := cfgpkg.EnvPrefix
	var b strings.Builder
	b.WriteString("# llmds .env template (generated by init-config)\n")
	b.WriteString("# Precedence: flags > environment (.env) > config file > defaults\n")
	b.WriteString("# Empty values are ignored.\n\n")

	section := func(title string, keys ...string) {
		b.WriteString("# " + title + "\n")
		for _, k := range keys {
			b.WriteString(k + "=\n")
		}
		b.WriteString("\n")
	}
	section("Config source (either)", p+"CONFIG_FILE", p+"CONFIG_JSON")
	section("Run", p+"INPUTS", p+"OUTPUT_DIR", p+"CONCURRENCY", p+"SAMPLES", p+"MAX_TOKENS",
		p+"MAX_RETRIES", p+"INVOKE_TIMEOUT_SECONDS", p+"LLM", p+"LOG_LEVEL", p+"LOG_DIR", p+"METRICS_FILE")
	section("Dataset", p+"TYPES", p+"DATASET_FORMAT", p+"FORMAT", p+"TRL_MODE", p+"TRL_SHAPE",
		p+"LANGUAGES", p+"INCLUDE_INDIC", p+"TOKENIZER_ENCODING")
	section("Upload and resume", p+"UPLOAD", p+"REPO_ID", p+"PRIVATE", p+"UPLOAD_TOKEN",
		p+"UPLOAD_ENDPOINT", p+"RESUME", p+"CHECKPOINT_PATH")
	section("Components", p+"COMPONENTS_READER", p+"COMPONENTS_SPLITTER", p+"COMPONENTS_CHUNKER",
		p+"COMPONENTS_PROMPT_BUILDER", p+"COMPONENTS_DECODER", p+"COMPONENTS_WRITER")
	for _, name := range []string{"openai", "gemini", "ollama"} {
		pp := p + "PROVIDER__" + name + "__"
		section("Provider overrides ("+name+")", pp+"CLIENT", pp+"LIMITS_RPM", pp+"LIMITS_TPM",
			pp+"LIMITS_MAX_TOKENS_PER_REQ", pp+"OPTIONS_JSON")
	}
	section("Credentials", "OPENAI_API_KEY", "GOOGLE_API_KEY", hub.TokenEnv)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		return false, err
	}
	return true, nil
}
