package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv blanks the override variables so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"THREATLENS_API_KEY", "THREATLENS_PROVIDER", "THREATLENS_MODEL", "GEMINI_API_KEY"} {
		t.Setenv(k, "")
	}
}

func TestLoad_ValidGeminiConfig(t *testing.T) {
	clearEnv(t)
	path := writeTestConfig(t, `
[llm]
provider = "gemini"
api_key  = "AIza-test"

[output]
dir     = "out"
formats = ["json", "YAML", "md"]
package = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.Model != "gemini-2.5-flash" {
		t.Errorf("model = %q, want default gemini-2.5-flash", cfg.LLM.Model)
	}
	if len(cfg.LLM.Models) != 2 {
		t.Errorf("models = %v, want the two gemini options", cfg.LLM.Models)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", cfg.LLM.Temperature)
	}
	if cfg.Output.Dir != "out" || !cfg.Output.Package {
		t.Errorf("output = %+v", cfg.Output)
	}
	if strings.Join(cfg.Output.Formats, ",") != "json,yaml,markdown" {
		t.Errorf("formats = %v", cfg.Output.Formats)
	}
	if cfg.Decoder.Repair != "structural" {
		t.Errorf("decoder.repair = %q", cfg.Decoder.Repair)
	}
}

func TestLoad_ValidOllamaConfig(t *testing.T) {
	clearEnv(t)
	path := writeTestConfig(t, `
[llm]
provider = "ollama"
model    = "foundation-sec:8b"
endpoint = "http://localhost:11434"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("ollama should not require api_key, got %q", cfg.LLM.APIKey)
	}
	if len(cfg.LLM.Models) != 1 || cfg.LLM.Models[0] != "foundation-sec:8b" {
		t.Errorf("models = %v, want [model]", cfg.LLM.Models)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "from-gemini-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Provider != "gemini" || cfg.LLM.APIKey != "from-gemini-env" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Server.Port != 8743 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestLoad_MissingAPIKey(t *testing.T) {
	clearEnv(t)
	path := writeTestConfig(t, `
[llm]
provider = "openai"
model    = "gpt-4o"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing api_key with openai provider")
	}
}

func TestLoad_GeminiKeyNotUsedForOtherProviders(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "gemini-only")
	path := writeTestConfig(t, `
[llm]
provider = "anthropic"
model    = "claude-sonnet-4-5"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("GEMINI_API_KEY must not satisfy another provider")
	}
}

func TestLoad_MissingModel(t *testing.T) {
	clearEnv(t)
	path := writeTestConfig(t, `
[llm]
provider = "ollama"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestLoad_ModelNotInModels(t *testing.T) {
	clearEnv(t)
	path := writeTestConfig(t, `
[llm]
api_key = "k"
model   = "gemini-1.0-pro"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "not one of") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoad_UnsupportedProvider(t *testing.T) {
	clearEnv(t)
	path := writeTestConfig(t, `
[llm]
provider = "bard"
api_key  = "test"
model    = "x"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"temperature": "[llm]\napi_key = \"k\"\ntemperature = 3.5\n",
		"max_tokens":  "[llm]\napi_key = \"k\"\nmax_tokens = -1\n",
		"repair":      "[llm]\napi_key = \"k\"\n[decoder]\nrepair = \"magic\"\n",
		"format":      "[llm]\napi_key = \"k\"\n[output]\nformats = [\"pdf\"]\n",
		"port":        "[llm]\napi_key = \"k\"\n[server]\nport = 70000\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			if _, err := Load(writeTestConfig(t, content)); err == nil {
				t.Errorf("expected error for invalid %s", name)
			}
		})
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTestConfig(t, `
[llm]
provider = "anthropic"
api_key  = "from-file"
model    = "claude-sonnet-4-5"
`)

	t.Setenv("THREATLENS_API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Errorf("api_key = %q, want %q (env override)", cfg.LLM.APIKey, "from-env")
	}
}

func TestLoad_PersonaFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	persona := filepath.Join(dir, "persona.txt")
	os.WriteFile(persona, []byte("You are a firewall expert."), 0644)

	path := writeTestConfig(t, "[llm]\napi_key = \"k\"\npersona_file = '"+persona+"'\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Persona != "You are a firewall expert." {
		t.Errorf("persona = %q", cfg.LLM.Persona)
	}

	path = writeTestConfig(t, "[llm]\napi_key = \"k\"\npersona_file = '"+filepath.Join(dir, "missing.txt")+"'\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing persona file")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	clearEnv(t)
	_, err := Load("/nonexistent/path/config.toml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "not found") || !strings.Contains(err.Error(), "config.example.toml") {
		t.Errorf("error should mention guidance, got: %s", err)
	}
}

func TestLoad_ProviderCaseInsensitive(t *testing.T) {
	clearEnv(t)
	path := writeTestConfig(t, `
[llm]
provider = "Anthropic"
api_key  = "test"
model    = "claude-sonnet-4-5"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %q, want normalized %q", cfg.LLM.Provider, "anthropic")
	}
}

func TestModelsWithDefaultFirst(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{Model: "b", Models: []string{"a", "b", "c"}}}
	if got := strings.Join(cfg.ModelsWithDefaultFirst(), ","); got != "b,a,c" {
		t.Errorf("got %s", got)
	}
}
