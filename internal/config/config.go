// Package config handles loading and validating the config.toml configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/iyulab/threatlens/internal/analyzer"
	"github.com/iyulab/threatlens/internal/jsonfix"
)

// Config is the top-level configuration.
type Config struct {
	LLM     LLMConfig     `toml:"llm"`
	Decoder DecoderConfig `toml:"decoder"`
	Server  ServerConfig  `toml:"server"`
	Output  OutputConfig  `toml:"output"`
}

// LLMConfig configures the model provider and the request sent to it.
type LLMConfig struct {
	Provider string   `toml:"provider"` // gemini (default), anthropic, openai, ollama
	APIKey   string   `toml:"api_key"`
	Model    string   `toml:"model"`  // default model; must be one of Models
	Models   []string `toml:"models"` // choices offered in the dashboard
	Endpoint string   `toml:"endpoint"`
	Timeout  int      `toml:"timeout"` // request timeout in seconds (0 = 120s)

	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
	Retries     int     `toml:"retries"`

	// Persona replaces the built-in analyst persona. PersonaFile, when set,
	// is read into Persona.
	Persona     string `toml:"persona"`
	PersonaFile string `toml:"persona_file"`
}

// DecoderConfig configures model response recovery.
type DecoderConfig struct {
	Repair string `toml:"repair"` // structural (default) | lenient
}

// ServerConfig configures the local dashboard server.
type ServerConfig struct {
	Port        int  `toml:"port"`
	OpenBrowser bool `toml:"open_browser"`
}

// OutputConfig configures artifacts written by the analyze command.
type OutputConfig struct {
	Dir     string   `toml:"dir"`
	Formats []string `toml:"formats"` // json, yaml, markdown, html
	Package bool     `toml:"package"` // zip the output directory
}

var validFormats = []string{"json", "yaml", "markdown", "html"}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "gemini",
			Temperature: analyzer.DefaultTemperature,
			MaxTokens:   analyzer.DefaultMaxTokens,
		},
		Decoder: DecoderConfig{Repair: "structural"},
		Server:  ServerConfig{Port: 8743, OpenBrowser: true},
		Output: OutputConfig{
			Dir:     "output",
			Formats: []string{"json", "markdown", "html"},
		},
	}
}

// Load reads a config.toml file and returns a validated Config. An empty path
// skips the file and uses Default. A .env file in the working directory is
// loaded before environment overrides are applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found: %s\n  Create one with: cp config.example.toml config.toml", path)
			}
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	// Environment variable overrides for sensitive values
	if provider := os.Getenv("THREATLENS_PROVIDER"); provider != "" {
		cfg.LLM.Provider = provider
	}
	if model := os.Getenv("THREATLENS_MODEL"); model != "" {
		cfg.LLM.Model = model
	}
	if key := os.Getenv("THREATLENS_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.LLM.APIKey == "" && strings.EqualFold(cfg.LLM.Provider, "gemini") {
		cfg.LLM.APIKey = key
	}

	if cfg.LLM.PersonaFile != "" {
		data, err := os.ReadFile(cfg.LLM.PersonaFile)
		if err != nil {
			return nil, fmt.Errorf("llm.persona_file: %w", err)
		}
		cfg.LLM.Persona = string(data)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration and normalizes it in place.
func (c *Config) Validate() error {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))

	switch c.LLM.Provider {
	case "gemini", "anthropic", "openai", "ollama":
		// valid
	case "":
		return fmt.Errorf("llm.provider is required (gemini, anthropic, openai, ollama)")
	default:
		return fmt.Errorf("unsupported llm.provider: %q", c.LLM.Provider)
	}

	// API key required for cloud providers
	if c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required for provider %q", c.LLM.Provider)
	}

	if len(c.LLM.Models) == 0 {
		switch {
		case c.LLM.Provider == "gemini":
			c.LLM.Models = slices.Clone(analyzer.DefaultModels)
		case c.LLM.Model != "":
			c.LLM.Models = []string{c.LLM.Model}
		default:
			return fmt.Errorf("llm.model is required")
		}
	}
	if c.LLM.Model == "" {
		c.LLM.Model = c.LLM.Models[0]
	}
	if !slices.Contains(c.LLM.Models, c.LLM.Model) {
		return fmt.Errorf("llm.model %q is not one of llm.models %v", c.LLM.Model, c.LLM.Models)
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %v", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive")
	}
	if c.LLM.Timeout < 0 || c.LLM.Retries < 0 {
		return fmt.Errorf("llm.timeout and llm.retries must not be negative")
	}

	if _, ok := jsonfix.Strategy(c.Decoder.Repair); !ok {
		return fmt.Errorf("unsupported decoder.repair: %q (structural, lenient)", c.Decoder.Repair)
	}

	for i, f := range c.Output.Formats {
		f = strings.ToLower(f)
		if f == "md" {
			f = "markdown"
		}
		if !slices.Contains(validFormats, f) {
			return fmt.Errorf("unsupported output format: %q", c.Output.Formats[i])
		}
		c.Output.Formats[i] = f
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "output"
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}

	return nil
}

// ModelsWithDefaultFirst returns the model list with the default model first.
func (c *Config) ModelsWithDefaultFirst() []string {
	out := []string{c.LLM.Model}
	for _, m := range c.LLM.Models {
		if m != c.LLM.Model {
			out = append(out, m)
		}
	}
	return out
}
