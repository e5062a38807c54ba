// Package config provides layered configuration for ragchat.
// Precedence, lowest first: defaults → .env file → YAML file → env vars.
// Environment variables always win; neither the .env file nor the YAML file
// overrides a variable that is already set.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. RAGCHAT_CONFIG environment variable
//  3. ~/.ragchat/config.yaml
//  4. ./ragchat.yaml
//
// If no file is found everything runs from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Backend configures the chat backend the client talks to.
	Backend BackendConfig `yaml:"backend"`

	// Chat holds per-conversation defaults.
	Chat ChatConfig `yaml:"chat"`

	// History configures local persistence of finalized turns.
	History HistoryConfig `yaml:"history"`

	// Metrics configures the client-side Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Server configures the local development backend.
	Server ServerConfig `yaml:"server"`

	// Ollama configures the model behind the development backend.
	Ollama OllamaConfig `yaml:"ollama"`

	// Qdrant configures the vector store behind semantic retrieval.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// BackendConfig holds chat backend connection settings.
type BackendConfig struct {
	// BaseURL is the backend root, e.g. http://localhost:8080.
	BaseURL string `yaml:"base_url"`
	// APIKey is sent as a Bearer token. Prefer env var RAGCHAT_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit is the outbound request rate in requests per second.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the outbound token-bucket burst.
	RateBurst int `yaml:"rate_burst"`
}

// ChatConfig holds conversation defaults.
type ChatConfig struct {
	// SystemPrompt is sent with every request.
	SystemPrompt string `yaml:"system_prompt"`
	// RAGDocuments is the number of retrieved documents to include.
	RAGDocuments int `yaml:"rag_documents"`
}

// HistoryConfig holds conversation history settings.
type HistoryConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// MetricsConfig holds client metrics settings.
type MetricsConfig struct {
	// Addr exposes /metrics on this address while a command runs. Empty
	// disables the endpoint.
	Addr string `yaml:"addr"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// ServerConfig holds development backend settings.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`
	// APIKey protects /api/* when set. Prefer env var RAGCHAT_SERVER_API_KEY.
	APIKey string `yaml:"api_key"`
	// Generator selects how answers are produced: fixture or a model
	// provider (ollama, openai, azure, gemini, ark).
	Generator string `yaml:"generator"`
	// Fixture is the YAML script replayed by the fixture generator.
	Fixture string `yaml:"fixture"`
	// DocsDir is a directory of documents imported into the corpus.
	DocsDir string `yaml:"docs_dir"`
	// Retriever selects retrieval: lexical, memory or qdrant.
	Retriever string `yaml:"retriever"`
	// RateLimit is the per-client request rate in requests per second.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-client burst.
	RateBurst int `yaml:"rate_burst"`
}

// OllamaConfig holds Ollama settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// Environment variable names.
const (
	EnvConfig           = "RAGCHAT_CONFIG"
	EnvBaseURL          = "RAGCHAT_BASE_URL"
	EnvAPIKey           = "RAGCHAT_API_KEY"
	EnvRateLimit        = "RAGCHAT_RATE_LIMIT"
	EnvRateBurst        = "RAGCHAT_RATE_BURST"
	EnvSystemPrompt     = "RAGCHAT_SYSTEM_PROMPT"
	EnvRAGDocuments     = "RAGCHAT_RAG_DOCUMENTS"
	EnvHistoryDB        = "RAGCHAT_HISTORY_DB"
	EnvMetricsAddr      = "RAGCHAT_METRICS_ADDR"
	EnvServeAddr        = "RAGCHAT_SERVE_ADDR"
	EnvServerAPIKey     = "RAGCHAT_SERVER_API_KEY"
	EnvGenerator        = "RAGCHAT_GENERATOR"
	EnvFixture          = "RAGCHAT_FIXTURE"
	EnvServerRateLimit  = "RAGCHAT_SERVER_RATE_LIMIT"
	EnvServerRateBurst  = "RAGCHAT_SERVER_RATE_BURST"
	EnvOllamaHost       = "OLLAMA_HOST"
	EnvOllamaModel      = "OLLAMA_MODEL"
	EnvDocsDir          = "RAGCHAT_DOCS_DIR"
	EnvRetriever        = "RAGCHAT_RETRIEVER"
	EnvQdrantHost       = "QDRANT_HOST"
	EnvQdrantPort       = "QDRANT_PORT"
	EnvQdrantCollection = "QDRANT_COLLECTION"
	EnvQdrantAPIKey     = "QDRANT_API_KEY"
)

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{EnvBaseURL, func(c *Config) string { return c.Backend.BaseURL }},
	{EnvAPIKey, func(c *Config) string { return c.Backend.APIKey }},
	{EnvRateLimit, func(c *Config) string { return floatStr(c.Backend.RateLimit) }},
	{EnvRateBurst, func(c *Config) string { return intStr(c.Backend.RateBurst) }},
	{EnvSystemPrompt, func(c *Config) string { return c.Chat.SystemPrompt }},
	{EnvRAGDocuments, func(c *Config) string { return intStr(c.Chat.RAGDocuments) }},
	{EnvHistoryDB, func(c *Config) string { return c.History.DBPath }},
	{EnvMetricsAddr, func(c *Config) string { return c.Metrics.Addr }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{EnvServeAddr, func(c *Config) string { return c.Server.Addr }},
	{EnvServerAPIKey, func(c *Config) string { return c.Server.APIKey }},
	{EnvGenerator, func(c *Config) string { return c.Server.Generator }},
	{EnvFixture, func(c *Config) string { return c.Server.Fixture }},
	{EnvServerRateLimit, func(c *Config) string { return floatStr(c.Server.RateLimit) }},
	{EnvServerRateBurst, func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{EnvOllamaHost, func(c *Config) string { return c.Ollama.Host }},
	{EnvOllamaModel, func(c *Config) string { return c.Ollama.Model }},
	{EnvDocsDir, func(c *Config) string { return c.Server.DocsDir }},
	{EnvRetriever, func(c *Config) string { return c.Server.Retriever }},
	{EnvQdrantHost, func(c *Config) string { return c.Qdrant.Host }},
	{EnvQdrantPort, func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{EnvQdrantCollection, func(c *Config) string { return c.Qdrant.Collection }},
	{EnvQdrantAPIKey, func(c *Config) string { return c.Qdrant.APIKey }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// LoadDotEnv loads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string, log *slog.Logger) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	log.Debug("config: loaded dotenv file", slog.String("path", path))
	return nil
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv(EnvConfig); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".ragchat", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("ragchat.yaml"); err == nil {
		return "ragchat.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// floatStr converts a float64 to string, returning "" for zero values.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(strconv.FormatFloat(v, 'f', 4, 64), "0"), ".")
}
