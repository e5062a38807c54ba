// Package audit logs one structured record per CLI invocation: the command,
// the config file it resolved and the operational environment. Secret values
// are recorded as "set" or "unset" only.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// auditEntry is one env var included in the audit record.
type auditEntry struct {
	key string
	// secret redacts the value to presence/absence.
	secret bool
}

// auditKeys is the ordered list of env vars included in every audit record.
var auditKeys = []auditEntry{
	{"RAGCHAT_BASE_URL", false},
	{"RAGCHAT_API_KEY", true},
	{"RAGCHAT_RATE_LIMIT", false},
	{"RAGCHAT_RAG_DOCUMENTS", false},
	{"RAGCHAT_HISTORY_DB", false},
	{"RAGCHAT_METRICS_ADDR", false},
	{"RAGCHAT_SERVE_ADDR", false},
	{"RAGCHAT_SERVER_API_KEY", true},
	{"RAGCHAT_GENERATOR", false},
	{"RAGCHAT_FIXTURE", false},
	{"OLLAMA_HOST", false},
	{"OLLAMA_MODEL", false},
	{"RAGCHAT_DOCS_DIR", false},
	{"RAGCHAT_RETRIEVER", false},
	{"QDRANT_HOST", false},
	{"QDRANT_API_KEY", true},
	{"OPENAI_API_KEY", true},
	{"AZURE_OPENAI_API_KEY", true},
	{"GOOGLE_API_KEY", true},
	{"ARK_API_KEY", true},
	{"EMBEDDING_PROVIDER", false},
	{"EMBEDDING_MODEL", false},
	{"EMBEDDING_API_KEY", true},
	{"LOG_LEVEL", false},
	{"LOG_FORMAT", false},
	{"LANGFUSE_HOST", false},
	{"LANGFUSE_PUBLIC_KEY", true},
	{"LANGFUSE_SECRET_KEY", true},
}

// secretEnvKeys is derived from auditKeys.
var secretEnvKeys = func() map[string]bool {
	m := make(map[string]bool)
	for _, e := range auditKeys {
		if e.secret {
			m[e.key] = true
		}
	}
	return m
}()

// LogCommandStart emits the audit record for command at INFO.
func LogCommandStart(ctx context.Context, log *slog.Logger, command string, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}
	for _, entry := range auditKeys {
		attrs = append(attrs, slog.String(entry.key, SanitiseKey(entry.key, os.Getenv(entry.key))))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey returns "set" or "unset" for secret keys and the value itself
// (or "unset") for everything else.
func SanitiseKey(key, value string) string {
	if secretEnvKeys[key] {
		return presence(value)
	}
	return valOrUnset(value)
}

func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns p with the home directory shortened to "~",
// or "none" when no file was loaded.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
