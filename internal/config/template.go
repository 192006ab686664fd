package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// mock LLM 离线可用，输入为当前目录，产物写入 ./out。
// 各 Options 列出全部键（值为中性默认），便于按需修改。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Inputs:       []string{"."},
		Concurrency:  d.Concurrency,
		MaxTokens:    8000,
		MaxRetries:   d.MaxRetries,
		SourceBudget: d.SourceBudget,
		CallMode:     d.CallMode,
		Logging:      d.Logging,
		Components:   d.Components,
		LLM:          "mock",
		Provider: map[string]Provider{
			"mock": {
				Client:  "mock",
				Options: json.RawMessage(`{"api_key":"","response_mode":"synth","fixture_dir":"","latency_ms":0}`),
				Limits:  Limits{RPM: 600, TPM: 1000000, MaxTokensPerReq: 16000},
			},
			"deepseek": {
				Client: "deepseek",
				Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "DEEPSEEK_API_KEY",
  "api_key": "",
  "timeout_seconds": 120,
  "temperature": null,
  "max_tokens": 2000,
  "endpoint_path": "",
  "disable_default_auth": false,
  "extra_headers": {}
}`),
				Limits: Limits{RPM: 60, TPM: 200000, MaxTokensPerReq: 16000},
			},
			"openai": {
				Client: "openai",
				Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "OPENAI_API_KEY",
  "api_key": "",
  "timeout_seconds": 120,
  "temperature": null,
  "max_tokens": 2000,
  "endpoint_path": "",
  "disable_default_auth": false,
  "extra_headers": {}
}`),
				Limits: Limits{RPM: 60, TPM: 200000, MaxTokensPerReq: 16000},
			},
			"gemini": {
				Client: "gemini",
				Options: json.RawMessage(`{
  "model": "",
  "api_key_env": "GEMINI_API_KEY",
  "api_key": "",
  "base_url": "",
  "api_version": "",
  "temperature": null,
  "max_tokens": 2000,
  "timeout_seconds": 120
}`),
				Limits: Limits{RPM: 15, TPM: 250000, MaxTokensPerReq: 16000},
			},
		},
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "node_modules", "lib"],
  "extensions": [".sol"],
  "include": [],
  "exclude": ["**/test/**", "**/*.t.sol"]
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "out",
  "atomic": true,
  "skip_unchanged": true,
  "perm_file": 0,
  "perm_dir": 0
}`)
	cfg.Options.PromptBuilder = json.RawMessage(`{
  "inline_system_template": "",
  "system_template_path": "",
  "inline_guide": "",
  "guide_path": "",
  "omit_source": false
}`)
	cfg.Options.Decoder = json.RawMessage(`{
  "strict": false,
  "match_timeout_ms": 1000
}`)
	return cfg
}
