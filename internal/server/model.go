package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// streamingModel is the slice of an eino chat model the generator uses.
type streamingModel interface {
	Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error)
}

// ModelGenerator answers with an eino chat model. Reasoning output is
// streamed as THINKING, the answer as CONTENT.
type ModelGenerator struct {
	model   streamingModel
	name    string
	backend string
}

// NewModelGenerator wraps m. name is the model reported to clients and
// backend labels traces, e.g. "ollama".
func NewModelGenerator(m streamingModel, name, backend string) (*ModelGenerator, error) {
	if m == nil {
		return nil, fmt.Errorf("server: chat model must not be nil")
	}
	if name == "" {
		return nil, fmt.Errorf("server: model name must not be empty")
	}
	return &ModelGenerator{model: m, name: name, backend: backend}, nil
}

// Name implements Generator.
func (g *ModelGenerator) Name() string { return g.name }

// Generate implements Generator. Usage is taken from the last chunk that
// reports it.
func (g *ModelGenerator) Generate(ctx context.Context, p *Prompt, emit func(Fragment) error) (*Result, error) {
	// Picks up the global tracing handlers, if any were registered.
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      "ragchat-serve",
		Type:      g.backend,
		Component: components.ComponentOfChatModel,
	})

	sr, err := g.model.Stream(ctx, p.Messages)
	if err != nil {
		return nil, fmt.Errorf("%s stream: %w", g.backend, err)
	}
	defer sr.Close()

	res := &Result{}
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s recv: %w", g.backend, err)
		}
		if msg.ReasoningContent != "" {
			if err := emit(Fragment{Thinking: msg.ReasoningContent}); err != nil {
				return nil, err
			}
		}
		if msg.Content != "" {
			if err := emit(Fragment{Content: msg.Content}); err != nil {
				return nil, err
			}
		}
		if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
			u := *msg.ResponseMeta.Usage
			res.Usage = &u
		}
	}
}

// OllamaPinger probes an Ollama daemon for GET /api/ready.
type OllamaPinger struct {
	host   string
	client *http.Client
}

// NewOllamaPinger returns a Pinger for the daemon at host.
func NewOllamaPinger(host string) *OllamaPinger {
	return &OllamaPinger{host: strings.TrimRight(host, "/"), client: &http.Client{}}
}

// Name implements Pinger.
func (p *OllamaPinger) Name() string { return "ollama" }

// Ping lists local models; any 2xx answer means the daemon is up.
func (p *OllamaPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ollama ping: status %d", resp.StatusCode)
	}
	return nil
}
