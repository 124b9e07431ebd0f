// Package config provides application-wide configuration loaded once at process start.
// Values come from built-in defaults, then an optional YAML file named by VOXRELAY_CONFIG,
// then environment variables (highest precedence).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for voxrelay. It is read-only after Load.
type Config struct {
	// HTTP
	Port      int    // PORT, default 3000
	StaticDir string // STATIC_DIR, default "public"

	// LLM
	LLMProvider     string // LLM_PROVIDER, default "openai"
	OpenAIAPIKey    string // OPENAI_API_KEY, no default
	OpenAIBaseURL   string // OPENAI_BASE_URL, default "https://api.openai.com"
	OpenAIModel     string // OPENAI_MODEL, default "gpt-3.5-turbo"
	OllamaBaseURL   string // OLLAMA_BASE_URL, default "http://localhost:11434"
	OllamaChatModel string // OLLAMA_CHAT_MODEL, default "llama3.2:3b"

	// Journal
	JournalDBPath string // JOURNAL_DB_PATH; empty disables the lifecycle journal

	// Observability
	LogLevel          string // LOG_LEVEL, default "info"
	LogFormat         string // LOG_FORMAT, "json" | "console", default "json"
	LogFile           string // LOG_FILE; optional rotating file sink
	TelemetryExporter string // TELEMETRY_EXPORTER, "none" | "stdout", default "none"
}

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

const (
	envKeyConfigFile        = "VOXRELAY_CONFIG"
	envKeyPort              = "PORT"
	envKeyStaticDir         = "STATIC_DIR"
	envKeyLLMProvider       = "LLM_PROVIDER"
	envKeyOpenAIAPIKey      = "OPENAI_API_KEY"
	envKeyOpenAIBaseURL     = "OPENAI_BASE_URL"
	envKeyOpenAIModel       = "OPENAI_MODEL"
	envKeyOllamaBaseURL     = "OLLAMA_BASE_URL"
	envKeyOllamaChatModel   = "OLLAMA_CHAT_MODEL"
	envKeyJournalDBPath     = "JOURNAL_DB_PATH"
	envKeyLogLevel          = "LOG_LEVEL"
	envKeyLogFormat         = "LOG_FORMAT"
	envKeyLogFile           = "LOG_FILE"
	envKeyTelemetryExporter = "TELEMETRY_EXPORTER"
)

// ErrInvalidConfig is wrapped by every validation failure returned from Load.
var ErrInvalidConfig = errors.New("invalid config")

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Port:              3000,
		StaticDir:         "public",
		LLMProvider:       ProviderOpenAI,
		OpenAIBaseURL:     "https://api.openai.com",
		OpenAIModel:       "gpt-3.5-turbo",
		OllamaBaseURL:     "http://localhost:11434",
		OllamaChatModel:   "llama3.2:3b",
		LogLevel:          "info",
		LogFormat:         "json",
		TelemetryExporter: ExporterNone,
	}
}

// Load builds the Config from defaults, the optional YAML file and the environment.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv(envKeyConfigFile); path != "" {
		fc, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg.apply(fc)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerated and numeric fields.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, c.LLMProvider)
	}
	switch c.TelemetryExporter {
	case ExporterNone, ExporterStdout:
	default:
		return fmt.Errorf("%w: unknown telemetry exporter %q", ErrInvalidConfig, c.TelemetryExporter)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

// fileConfig mirrors Config for YAML decoding. Zero values mean "not set".
type fileConfig struct {
	Port              int    `yaml:"port"`
	StaticDir         string `yaml:"static_dir"`
	LLMProvider       string `yaml:"llm_provider"`
	OpenAIAPIKey      string `yaml:"openai_api_key"`
	OpenAIBaseURL     string `yaml:"openai_base_url"`
	OpenAIModel       string `yaml:"openai_model"`
	OllamaBaseURL     string `yaml:"ollama_base_url"`
	OllamaChatModel   string `yaml:"ollama_chat_model"`
	JournalDBPath     string `yaml:"journal_db_path"`
	LogLevel          string `yaml:"log_level"`
	LogFormat         string `yaml:"log_format"`
	LogFile           string `yaml:"log_file"`
	TelemetryExporter string `yaml:"telemetry_exporter"`
}

// readFile decodes a YAML config file, rejecting unknown keys.
func readFile(path string) (fileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	var fc fileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fileConfig{}, fmt.Errorf("config: decode %q: %w", path, err)
	}
	return fc, nil
}

func (c *Config) apply(fc fileConfig) {
	if fc.Port != 0 {
		c.Port = fc.Port
	}
	c.StaticDir = coalesce(fc.StaticDir, c.StaticDir)
	c.LLMProvider = coalesce(fc.LLMProvider, c.LLMProvider)
	c.OpenAIAPIKey = coalesce(fc.OpenAIAPIKey, c.OpenAIAPIKey)
	c.OpenAIBaseURL = coalesce(fc.OpenAIBaseURL, c.OpenAIBaseURL)
	c.OpenAIModel = coalesce(fc.OpenAIModel, c.OpenAIModel)
	c.OllamaBaseURL = coalesce(fc.OllamaBaseURL, c.OllamaBaseURL)
	c.OllamaChatModel = coalesce(fc.OllamaChatModel, c.OllamaChatModel)
	c.JournalDBPath = coalesce(fc.JournalDBPath, c.JournalDBPath)
	c.LogLevel = coalesce(fc.LogLevel, c.LogLevel)
	c.LogFormat = coalesce(fc.LogFormat, c.LogFormat)
	c.LogFile = coalesce(fc.LogFile, c.LogFile)
	c.TelemetryExporter = coalesce(fc.TelemetryExporter, c.TelemetryExporter)
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envKeyPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, envKeyPort, v)
		}
		c.Port = port
	}
	c.StaticDir = envOr(envKeyStaticDir, c.StaticDir)
	c.LLMProvider = envOr(envKeyLLMProvider, c.LLMProvider)
	c.OpenAIAPIKey = envOr(envKeyOpenAIAPIKey, c.OpenAIAPIKey)
	c.OpenAIBaseURL = envOr(envKeyOpenAIBaseURL, c.OpenAIBaseURL)
	c.OpenAIModel = envOr(envKeyOpenAIModel, c.OpenAIModel)
	c.OllamaBaseURL = envOr(envKeyOllamaBaseURL, c.OllamaBaseURL)
	c.OllamaChatModel = envOr(envKeyOllamaChatModel, c.OllamaChatModel)
	c.JournalDBPath = envOr(envKeyJournalDBPath, c.JournalDBPath)
	c.LogLevel = envOr(envKeyLogLevel, c.LogLevel)
	c.LogFormat = envOr(envKeyLogFormat, c.LogFormat)
	c.LogFile = envOr(envKeyLogFile, c.LogFile)
	c.TelemetryExporter = envOr(envKeyTelemetryExporter, c.TelemetryExporter)
	return nil
}

// envOr returns the value of the environment variable key, or fallback if not set.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func coalesce(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}
