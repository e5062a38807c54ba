package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Defaults applied by Resolve when the corresponding variable is unset.
const (
	DefaultBaseURL      = "http://localhost:8080"
	DefaultRAGDocuments = 5
	DefaultServeAddr    = "127.0.0.1:8080"
	DefaultGenerator    = "fixture"
	DefaultOllamaHost   = "http://localhost:11434"
	DefaultOllamaModel  = "qwen3"
	DefaultRetriever    = "lexical"
	DefaultQdrantHost   = "localhost"
	DefaultQdrantPort   = 6334

	// HistoryDisabled turns off local history when used as the DB path.
	HistoryDisabled = "disabled"
)

// Settings is the typed view of the environment after all layers have been
// applied.
type Settings struct {
	BaseURL      string
	APIKey       string
	RateLimit    float64
	RateBurst    int
	SystemPrompt string
	RAGDocuments int
	// HistoryDB is the SQLite path, or "" when history is disabled.
	HistoryDB   string
	MetricsAddr string

	ServeAddr        string
	ServerAPIKey     string
	Generator        string
	Fixture          string
	ServerRateLimit  float64
	ServerRateBurst  int
	OllamaHost       string
	OllamaModel      string
	// DocsDir is imported into the corpus when set.
	DocsDir          string
	Retriever        string
	QdrantHost       string
	QdrantPort       int
	QdrantCollection string
	QdrantAPIKey     string
}

// Generators lists the valid values of RAGCHAT_GENERATOR.
var Generators = []string{DefaultGenerator, "ollama", "openai", "azure", "gemini", "ark"}

// Retrievers lists the valid values of RAGCHAT_RETRIEVER.
var Retrievers = []string{DefaultRetriever, "memory", "qdrant"}

// Resolve reads Settings from the environment. Call it after LoadDotEnv and
// Load so every layer is visible.
func Resolve() (*Settings, error) {
	s := &Settings{
		BaseURL:          envOr(EnvBaseURL, DefaultBaseURL),
		APIKey:           os.Getenv(EnvAPIKey),
		SystemPrompt:     os.Getenv(EnvSystemPrompt),
		MetricsAddr:      os.Getenv(EnvMetricsAddr),
		ServeAddr:        envOr(EnvServeAddr, DefaultServeAddr),
		ServerAPIKey:     os.Getenv(EnvServerAPIKey),
		Generator:        strings.ToLower(envOr(EnvGenerator, DefaultGenerator)),
		Fixture:          os.Getenv(EnvFixture),
		OllamaHost:       envOr(EnvOllamaHost, DefaultOllamaHost),
		OllamaModel:      envOr(EnvOllamaModel, DefaultOllamaModel),
		DocsDir:          os.Getenv(EnvDocsDir),
		Retriever:        strings.ToLower(envOr(EnvRetriever, DefaultRetriever)),
		QdrantHost:       envOr(EnvQdrantHost, DefaultQdrantHost),
		QdrantAPIKey:     os.Getenv(EnvQdrantAPIKey),
		QdrantCollection: os.Getenv(EnvQdrantCollection),
	}

	var errs []error
	s.RateLimit = parseFloat(EnvRateLimit, 0, &errs)
	s.RateBurst = parseInt(EnvRateBurst, 0, &errs)
	s.RAGDocuments = parseInt(EnvRAGDocuments, DefaultRAGDocuments, &errs)
	s.ServerRateLimit = parseFloat(EnvServerRateLimit, 0, &errs)
	s.ServerRateBurst = parseInt(EnvServerRateBurst, 0, &errs)
	s.QdrantPort = parseInt(EnvQdrantPort, DefaultQdrantPort, &errs)

	if s.RAGDocuments < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", EnvRAGDocuments))
	}
	if !slices.Contains(Generators, s.Generator) {
		errs = append(errs, fmt.Errorf("%s: unknown generator %q (want one of %s)", EnvGenerator, s.Generator, strings.Join(Generators, ", ")))
	}
	if !slices.Contains(Retrievers, s.Retriever) {
		errs = append(errs, fmt.Errorf("%s: unknown retriever %q (want one of %s)", EnvRetriever, s.Retriever, strings.Join(Retrievers, ", ")))
	}

	switch db := os.Getenv(EnvHistoryDB); {
	case strings.EqualFold(db, HistoryDisabled):
		s.HistoryDB = ""
	case db != "":
		s.HistoryDB = db
	default:
		s.HistoryDB = defaultHistoryPath()
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return s, nil
}

// defaultHistoryPath is ~/.ragchat/history.db, or "" when the home directory
// cannot be determined.
func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ragchat", "history.db")
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func parseFloat(key string, def float64, errs *[]error) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a non-negative number", key, v))
		return def
	}
	return f
}
