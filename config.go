package poemlet

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	defaults "github.com/Paranoid-AF/poemlet/default"
)

// Config represents the user's poemlet configuration.
type Config struct {
	Version    int              `toml:"version" json:"version"`
	Generation GenerationConfig `toml:"generation" json:"generation"`
	Server     ServerConfig     `toml:"server" json:"server"`
}

// GenerationConfig selects the model backend and its sampling settings.
type GenerationConfig struct {
	Backend      string `toml:"backend" json:"backend" validate:"oneof=llamacpp ollama openai"`
	BaseURL      string `toml:"base_url" json:"base_url"`
	APIKey       string `toml:"api_key" json:"api_key,omitempty"`
	Model        string `toml:"model" json:"model"`
	ModelPath    string `toml:"model_path" json:"model_path"`
	LlamaBinary  string `toml:"llama_binary" json:"llama_binary"`
	ChatTemplate string `toml:"chat_template" json:"chat_template" validate:"oneof=zephyr chatml plain"`
	// EOSTokenID overrides the end-of-sequence id implied by ChatTemplate.
	EOSTokenID        *int    `toml:"eos_token_id,omitempty" json:"eos_token_id,omitempty"`
	MinNewTokens      int     `toml:"min_new_tokens" json:"min_new_tokens" validate:"gte=1"`
	Temperature       float64 `toml:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	TopP              float64 `toml:"top_p" json:"top_p" validate:"gt=0,lte=1"`
	TopK              int     `toml:"top_k" json:"top_k" validate:"gte=0"`
	RepetitionPenalty float64 `toml:"repetition_penalty" json:"repetition_penalty" validate:"gt=0"`
	// NoRepeatNgramSize is validated but no current backend sends it.
	NoRepeatNgramSize int     `toml:"no_repeat_ngram_size" json:"no_repeat_ngram_size" validate:"gte=0"`
	TimeoutSeconds    int     `toml:"timeout_seconds" json:"timeout_seconds" validate:"gte=1"`
}

// ServerConfig holds daemon settings.
type ServerConfig struct {
	// CacheTTLMinutes is how long generated poems are reused; 0 disables the cache.
	CacheTTLMinutes int `toml:"cache_ttl_minutes" json:"cache_ttl_minutes" validate:"gte=0"`
	// RequestsPerMinute limits generation throughput; 0 disables the limit.
	RequestsPerMinute int `toml:"requests_per_minute" json:"requests_per_minute" validate:"gte=0"`
}

// envOverrides lists the POEMLET_* variables that take priority over config.toml.
type envOverrides struct {
	Backend      string `env:"BACKEND"`
	BaseURL      string `env:"GENERATION_API_BASE_URL"`
	APIKey       string `env:"GENERATION_API_KEY"`
	Model        string `env:"GENERATION_MODEL"`
	ModelPath    string `env:"MODEL_PATH"`
	LlamaBinary  string `env:"LLAMA_BINARY"`
	ChatTemplate string `env:"CHAT_TEMPLATE"`
}

// ConfigDir returns the config directory path.
// Resolution order: $POEMLET_CONFIG_DIR > $XDG_CONFIG_HOME/poemlet > ~/.config/poemlet
func ConfigDir() string {
	if dir := os.Getenv("POEMLET_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "poemlet")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "poemlet-config")
	}
	return filepath.Join(home, ".config", "poemlet")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// PromptPath returns the custom prompt template path.
func PromptPath() string {
	return filepath.Join(ConfigDir(), "prompt.md")
}

// ModelsDir returns the directory relative model paths are resolved against.
// Resolution order: $XDG_CACHE_HOME/poemlet/models > ~/.cache/poemlet/models
func ModelsDir() string {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, "poemlet", "models")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "poemlet-models")
	}
	return filepath.Join(home, ".cache", "poemlet", "models")
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if _, err := toml.Decode(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("poemlet: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from disk or returns defaults if not found.
// Keys missing from the file keep their default values.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile is LoadConfig for an explicit path.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}
	for _, key := range md.Undecoded() {
		slog.Warn("unknown config key", "key", key.String(), "path", path)
	}
	return cfg, nil
}

// LoadDotEnv loads .env files from the config directory and the working
// directory. Variables already set in the environment are left untouched.
func LoadDotEnv() {
	for _, path := range []string{filepath.Join(ConfigDir(), ".env"), ".env"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			slog.Warn("failed to load env file", "path", path, "error", err)
			continue
		}
		slog.Debug("loaded env file", "path", path)
	}
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if err := CheckConfig(cfg); err != nil {
		warnings = append(warnings, err.Error())
	}
	gen := ResolveGeneration(cfg)
	switch gen.Backend {
	case "openai":
		if gen.BaseURL == "" {
			warnings = append(warnings, "openai backend selected but base_url is empty; set POEMLET_GENERATION_API_BASE_URL")
		}
		if gen.Model == "" {
			warnings = append(warnings, "openai backend selected but model is empty")
		}
	case "llamacpp":
		if _, err := os.Stat(gen.ModelPath); err != nil {
			warnings = append(warnings, "model file not found: "+gen.ModelPath)
		}
	}
	if gen.EOSTokenID != nil && *gen.EOSTokenID < 0 {
		warnings = append(warnings, "eos_token_id is negative and will be ignored")
	}
	return warnings
}

// ResolveGeneration returns the generation settings with POEMLET_* environment
// variables applied over the config file values, and the model path made absolute.
// Priority: env > config value.
func ResolveGeneration(cfg *Config) GenerationConfig {
	var gen GenerationConfig
	if cfg != nil {
		gen = cfg.Generation
	} else {
		gen = DefaultConfig().Generation
	}

	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: "POEMLET_"}); err != nil {
		slog.Warn("failed to parse environment overrides", "error", err)
	}
	overlay(&gen.Backend, o.Backend)
	overlay(&gen.BaseURL, o.BaseURL)
	overlay(&gen.APIKey, o.APIKey)
	overlay(&gen.Model, o.Model)
	overlay(&gen.ModelPath, o.ModelPath)
	overlay(&gen.LlamaBinary, o.LlamaBinary)
	overlay(&gen.ChatTemplate, o.ChatTemplate)

	gen.Backend = strings.ToLower(gen.Backend)
	gen.BaseURL = strings.TrimRight(gen.BaseURL, "/")
	if gen.ModelPath != "" && !filepath.IsAbs(gen.ModelPath) {
		gen.ModelPath = filepath.Join(ModelsDir(), gen.ModelPath)
	}
	return gen
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
