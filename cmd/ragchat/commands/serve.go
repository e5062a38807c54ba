package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragchat-go/internal/config"
	"github.com/54b3r/ragchat-go/internal/embedder"
	"github.com/54b3r/ragchat-go/internal/ingestion"
	"github.com/54b3r/ragchat-go/internal/logging"
	"github.com/54b3r/ragchat-go/internal/provider"
	"github.com/54b3r/ragchat-go/internal/rag"
	"github.com/54b3r/ragchat-go/internal/server"
	"github.com/54b3r/ragchat-go/internal/tracing"
)

// NewServeCmd constructs the `ragchat serve` command, which runs the
// development chat backend.
func NewServeCmd() *cobra.Command {
	var (
		addr      string
		generator string
		fixture   string
		docsDir   string
		retriever string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local development chat backend",
		Long: `Run a chat backend that speaks the same HTTP and SSE protocol as the
production service. Answers come from a scripted fixture (the default) or a
chat model: ollama, openai, azure, gemini or ark, configured through the
provider's environment variables. Retrieval runs over the fixture's documents
plus any directory given with --docs-dir, either lexically or by embedding
similarity in memory or in Qdrant. Finished turns are kept in the history
database and fed back as conversation memory.

Examples:
  ragchat serve
  ragchat serve --addr 127.0.0.1:9090 --fixture ./demo.yaml
  ragchat serve --generator ollama --docs-dir ./handbook --retriever memory
  OPENAI_API_KEY=sk-... ragchat serve --generator openai
  QDRANT_HOST=localhost ragchat serve --docs-dir ./handbook --retriever qdrant`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if cmd.Flags().Changed("addr") {
				settings.ServeAddr = addr
			}
			if cmd.Flags().Changed("generator") {
				settings.Generator = generator
			}
			if cmd.Flags().Changed("fixture") {
				settings.Fixture = fixture
			}
			if cmd.Flags().Changed("docs-dir") {
				settings.DocsDir = docsDir
			}
			if cmd.Flags().Changed("retriever") {
				settings.Retriever = retriever
			}

			flush, traced := tracing.Install(tracing.ConfigFromEnv())
			defer flush()
			if traced {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			fx, err := server.LoadFixture(settings.Fixture)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			gen, pingers, err := buildGenerator(ctx, settings, fx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			corpus, err := buildCorpus(ctx, settings, fx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			cfg := &server.Config{
				Addr:      settings.ServeAddr,
				Logger:    log,
				Generator: gen,
				Corpus:    corpus,
				RateLimit: settings.ServerRateLimit,
				RateBurst: settings.ServerRateBurst,
				APIKey:    settings.ServerAPIKey,
			}
			if settings.RAGDocuments > 0 {
				cfg.DefaultRAGDocuments = settings.RAGDocuments
			}

			retr, store, err := buildRetriever(ctx, settings, corpus, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			if store != nil {
				defer store.Close()
				if p, ok := store.(server.Pinger); ok {
					pingers = append(pingers, p)
				}
			}
			if retr != nil {
				cfg.Retriever = retr
			}

			hist, closeHist := openHistory(settings, log)
			defer closeHist()
			if hist != nil {
				cfg.Memory = hist
				pingers = append([]server.Pinger{hist}, pingers...)
			}
			cfg.Pingers = pingers

			srv, err := server.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", config.DefaultServeAddr, "Address to listen on")
	cmd.Flags().StringVar(&generator, "generator", config.DefaultGenerator, "Answer source: fixture, ollama, openai, azure, gemini or ark")
	cmd.Flags().StringVar(&fixture, "fixture", "", "Fixture YAML with documents and scripted replies (default: built-in)")
	cmd.Flags().StringVar(&docsDir, "docs-dir", "", "Import the markdown and text files under this directory")
	cmd.Flags().StringVar(&retriever, "retriever", config.DefaultRetriever, "Retrieval: lexical, memory or qdrant")

	return cmd
}

// buildGenerator selects the answer source. Provider backends are probed by
// /api/ready when a probe exists for them.
func buildGenerator(ctx context.Context, s *config.Settings, fx *server.Fixture, log *slog.Logger) (server.Generator, []server.Pinger, error) {
	if s.Generator == config.DefaultGenerator {
		log.Info("generator initialised", slog.String("generator", s.Generator))
		return server.NewFixtureGenerator(fx), nil, nil
	}

	pcfg := provider.ConfigFromEnv(provider.Backend(s.Generator))
	if pcfg.Backend == provider.BackendOllama {
		pcfg.Ollama.Host, pcfg.Ollama.Model = s.OllamaHost, s.OllamaModel
	}
	m, err := provider.New(ctx, pcfg)
	if err != nil {
		return nil, nil, err
	}
	gen, err := server.NewModelGenerator(m, pcfg.ModelName(), string(pcfg.Backend))
	if err != nil {
		return nil, nil, err
	}
	log.Info("generator initialised", slog.String("generator", s.Generator), slog.String("model", gen.Name()))

	var pingers []server.Pinger
	if pcfg.Backend == provider.BackendOllama {
		pingers = append(pingers, server.NewOllamaPinger(pcfg.Ollama.Host))
	}
	return gen, pingers, nil
}

// buildCorpus joins the fixture documents with the documents imported from
// the docs directory. Imported ids continue after the fixture's.
func buildCorpus(ctx context.Context, s *config.Settings, fx *server.Fixture, log *slog.Logger) (*server.Corpus, error) {
	docs := fx.Documents
	if s.DocsDir == "" {
		return server.NewCorpus(docs), nil
	}

	var next int64 = 1
	for _, d := range docs {
		next = max(next, d.ID+1)
	}
	imported, err := ingestion.NewLoader(ingestion.Config{}).Load(ctx, s.DocsDir, next, func(path string, passages int) {
		log.Debug("ingestion: imported", slog.String("path", path), slog.Int("passages", passages))
	})
	if err != nil {
		return nil, err
	}
	log.Info("ingestion: documents imported", slog.String("dir", s.DocsDir), slog.Int("documents", len(imported)))
	return server.NewCorpus(append(docs, imported...)), nil
}

// buildRetriever embeds the corpus for semantic retrieval. The lexical
// retriever needs nothing and returns nils. The returned store must be
// closed by the caller.
func buildRetriever(ctx context.Context, s *config.Settings, corpus *server.Corpus, log *slog.Logger) (server.Retriever, rag.VectorStore, error) {
	if s.Retriever == config.DefaultRetriever {
		return nil, nil, nil
	}

	ecfg := embedder.ConfigFromEnv(s.Generator)
	emb, err := embedder.New(ctx, ecfg, log)
	if err != nil {
		return nil, nil, err
	}

	var store rag.VectorStore
	switch s.Retriever {
	case "memory":
		store = rag.NewMemoryStore()
	case "qdrant":
		qs, err := rag.NewQdrantStore(ctx, rag.QdrantConfig{
			Host:       s.QdrantHost,
			Port:       s.QdrantPort,
			Collection: s.QdrantCollection,
			APIKey:     s.QdrantAPIKey,
			VectorSize: uint64(ecfg.VectorSize()),
		})
		if err != nil {
			return nil, nil, err
		}
		store = qs
	default:
		return nil, nil, fmt.Errorf("unknown retriever %q (want one of %v)", s.Retriever, config.Retrievers)
	}

	r, err := rag.NewRetriever(emb, store, 0)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	sr, err := server.IndexCorpus(ctx, r, corpus, func(done int) {
		log.Debug("retriever: indexing", slog.Int("passages", done))
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	log.Info("retriever: corpus indexed",
		slog.String("retriever", s.Retriever),
		slog.String("embedder", ecfg.Backend),
		slog.String("embedding_model", ecfg.Model),
	)
	return sr, store, nil
}
