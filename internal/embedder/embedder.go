// Package embedder implements rag.Embedder for Ollama, the OpenAI and Azure
// OpenAI embeddings APIs, and Gemini.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/ragchat-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultGeminiDimensions is the output dimension of text-embedding-004.
	defaultGeminiDimensions = 768
)

// maxErrorBody caps how much of a failed response is quoted in errors.
const maxErrorBody = 512

// Config selects and configures an embedding backend.
type Config struct {
	// Backend is ollama, openai, azure or gemini.
	Backend string
	// Model is the embedding model or Azure deployment name.
	Model string
	// Endpoint is the Ollama host, the OpenAI API base, the Azure
	// resource endpoint or a Gemini API base override.
	Endpoint string
	// APIKey authenticates against OpenAI or Azure.
	APIKey string
	// Dimensions is the vector length; zero keeps the model default.
	Dimensions int
	// APIVersion is the Azure OpenAI API version.
	APIVersion string
}

// ConfigFromEnv resolves the embedding configuration. EMBEDDING_PROVIDER
// selects the backend; when unset it follows chatBackend if that backend can
// embed, otherwise Ollama. Credentials are inherited from the chat
// provider's variables unless EMBEDDING_API_KEY / EMBEDDING_ENDPOINT
// override them.
func ConfigFromEnv(chatBackend string) Config {
	backend := strings.ToLower(os.Getenv("EMBEDDING_PROVIDER"))
	if backend == "" {
		switch chatBackend {
		case "openai", "azure", "gemini":
			backend = chatBackend
		default:
			backend = "ollama"
		}
	}

	cfg := Config{
		Backend:    backend,
		Model:      os.Getenv("EMBEDDING_MODEL"),
		Endpoint:   os.Getenv("EMBEDDING_ENDPOINT"),
		APIKey:     os.Getenv("EMBEDDING_API_KEY"),
		Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01"),
	}
	switch backend {
	case "ollama":
		cfg.Endpoint = firstNonEmpty(cfg.Endpoint, os.Getenv("OLLAMA_HOST"), "http://localhost:11434")
		cfg.Model = firstNonEmpty(cfg.Model, defaultOllamaModel)
	case "openai":
		cfg.Endpoint = firstNonEmpty(cfg.Endpoint, os.Getenv("OPENAI_BASE_URL"), "https://api.openai.com/v1")
		cfg.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
		cfg.Model = firstNonEmpty(cfg.Model, defaultOpenAIModel)
	case "azure":
		cfg.Endpoint = firstNonEmpty(cfg.Endpoint, os.Getenv("AZURE_OPENAI_ENDPOINT"))
		cfg.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("AZURE_OPENAI_API_KEY"))
		cfg.Model = firstNonEmpty(cfg.Model, defaultOpenAIModel)
	case "gemini":
		cfg.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("GOOGLE_API_KEY"))
		cfg.Model = firstNonEmpty(cfg.Model, defaultGeminiModel)
	}
	return cfg
}

// VectorSize is the dimensionality the configured model produces, used to
// create vector collections.
func (c Config) VectorSize() int {
	if c.Dimensions > 0 {
		return c.Dimensions
	}
	switch c.Backend {
	case "ollama":
		return defaultOllamaDimensions
	case "gemini":
		return defaultGeminiDimensions
	}
	return defaultOpenAIDimensions
}

// New validates cfg and constructs its embedder. A model name that looks
// like a chat model is logged as a warning, not rejected.
func New(ctx context.Context, cfg Config, log *slog.Logger) (rag.Embedder, error) {
	switch cfg.Backend {
	case "ollama":
	case "openai", "azure", "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: %s requires an API key (EMBEDDING_API_KEY or the provider's key variable)", cfg.Backend)
		}
		if cfg.Backend == "azure" && cfg.Endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid: ollama, openai, azure, gemini)", cfg.Backend)
	}

	if log != nil && looksLikeChatModel(cfg.Model) {
		log.Warn("embedder: model looks like a chat model, not an embedding model",
			slog.String("model", cfg.Model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}

	switch cfg.Backend {
	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{Host: cfg.Endpoint, Model: cfg.Model}), nil
	case "gemini":
		return NewGeminiEmbedder(ctx, &GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model, Dimensions: cfg.Dimensions, BaseURL: cfg.Endpoint})
	}
	oc := &OpenAIConfig{BaseURL: cfg.Endpoint, APIKey: cfg.APIKey, Model: cfg.Model, Dimensions: cfg.Dimensions}
	if cfg.Backend == "azure" {
		oc.BaseURL = strings.TrimRight(cfg.Endpoint, "/") + "/openai"
		oc.Azure = true
		oc.APIVersion = cfg.APIVersion
	}
	return NewOpenAIEmbedder(oc), nil
}

// knownChatModelPrefixes contains name fragments of chat/completion models,
// which produce poor or no embeddings.
var knownChatModelPrefixes = []string{
	"gpt-4", "gpt-3.5", "gpt-35", "o1", "o3", "llama3", "llama2", "llama-3", "llama-2",
	"mistral", "mixtral", "gemma", "phi-", "phi3", "claude", "command-r", "deepseek",
	"qwen", "solar", "vicuna", "falcon", "yi-",
}

func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// postJSON sends in to url and decodes a 2xx answer into out. errMsg
// extracts a provider error message from a non-2xx body.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, in, out any, errMsg func([]byte) string) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header = header.Clone()
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if msg := errMsg(body); msg != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
