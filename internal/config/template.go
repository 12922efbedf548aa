package config

import "encoding/json"

// DefaultTemplateConfig returns a runnable template:
// the mock LLM with moderate limits so it works offline, inputs from ./input and
// artifacts in ./out. Every option key of the built-in components is present.
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := d
	cfg.Inputs = []string{"input"}
	cfg.MaxRetries = 2
	cfg.Dataset.Types = []string{"qa", "instruction"}
	cfg.LLM = "mock"
	cfg.Provider = map[string]Provider{
		"mock": {
			Client:  "mock",
			Options: json.RawMessage(`{"prefix":"","api_key":"","response_mode":"","delay_ms":0}`),
			Limits:  Limits{RPM: 600, TPM: 200000, MaxTokensPerReq: 8192},
		},
		"openai": {
			Client: "openai",
			Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "OPENAI_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "endpoint_path": "",
  "disable_default_auth": false,
  "extra_headers": {},
  "json_object_only": false
}`),
			Limits: Limits{RPM: 60, TPM: 150000, MaxTokensPerReq: 0},
		},
		"ollama": {
			Client: "ollama",
			Options: json.RawMessage(`{
  "base_url": "http://localhost:11434",
  "model": "llama3.1",
  "timeout_seconds": 300,
  "num_ctx": 8192,
  "keep_alive": "5m",
  "extra_headers": {}
}`),
			Limits: Limits{},
		},
		"gemini": {
			Client: "gemini",
			Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "GOOGLE_API_KEY",
  "api_key": "",
  "endpoint_path": "",
  "timeout_seconds": 60,
  "api_key_in_query": true,
  "extra_headers": {},
  "extra_query": {},
  "response_mime_type": ""
}`),
			Limits: Limits{RPM: 15, TPM: 1000000, MaxTokensPerReq: 0},
		},
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "node_modules", "vendor"],
  "allow_exts": [".txt", ".pdf"]
}`)
	cfg.Options.Splitter = json.RawMessage(`{
  "pdf_command": "pdftotext",
  "pdf_args": ["-layout", "-", "-"],
  "min_paragraph_bytes": 0,
  "no_placeholder": false
}`)
	cfg.Options.Chunker = json.RawMessage(`{
  "overlap_records": 0,
  "bytes_per_token": 4,
  "separator": "\n\n"
}`)
	cfg.Options.PromptBuilder = json.RawMessage(`{
  "inline_system_template": "",
  "system_template_path": "",
  "inline_guidelines": "",
  "guidelines_path": ""
}`)
	cfg.Options.Decoder = json.RawMessage(`{
  "strict": false,
  "envelope": "samples"
}`)
	// output_dir is filled from the top-level setting
	cfg.Options.Writer = json.RawMessage(`{
  "atomic": true,
  "flat": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}
