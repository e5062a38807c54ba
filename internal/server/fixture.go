package server

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed fixtures/default.yaml
var defaultFixture []byte

// Fixture is a scripted backend: a document corpus and canned replies. It
// is loaded from YAML.
type Fixture struct {
	// Model is the model name reported in events (default: "fixture").
	Model string `yaml:"model"`
	// Delay is the pause before each emitted fragment.
	Delay time.Duration `yaml:"delay"`
	// Documents make up the corpus.
	Documents []Document `yaml:"documents"`
	// Replies are tried in order; the first whose Match occurs in the
	// prompt (case-insensitive) is used.
	Replies []Reply `yaml:"replies"`
	// Fallback answers prompts no reply matches. When nil the prompt is
	// echoed back.
	Fallback *Reply `yaml:"fallback"`
}

// Reply is one scripted answer.
type Reply struct {
	Match    string   `yaml:"match"`
	Thinking []string `yaml:"thinking"`
	// Content fragments may contain {prompt}, replaced by the user prompt.
	Content []string `yaml:"content"`
	// Fail, when set, aborts the stream with this message after the
	// scripted fragments. It simulates a backend dying mid-answer.
	Fail string `yaml:"fail"`
}

// LoadFixture reads a fixture file. An empty path loads the built-in
// fixture.
func LoadFixture(path string) (*Fixture, error) {
	data := defaultFixture
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("server: read fixture %s: %w", path, err)
		}
		data = b
	}
	return ParseFixture(data)
}

// ParseFixture decodes a fixture document. Unknown keys are rejected.
func ParseFixture(data []byte) (*Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("server: parse fixture: %w", err)
	}
	if fx.Model == "" {
		fx.Model = "fixture"
	}
	if fx.Delay < 0 {
		return nil, fmt.Errorf("server: fixture delay must not be negative")
	}
	seen := make(map[int64]bool)
	for _, d := range fx.Documents {
		if seen[d.ID] {
			return nil, fmt.Errorf("server: fixture document id %d is duplicated", d.ID)
		}
		seen[d.ID] = true
	}
	return &fx, nil
}

// errScripted is wrapped by the error a Reply.Fail produces.
var errScripted = errors.New("scripted failure")

// FixtureGenerator replays a Fixture's replies.
type FixtureGenerator struct {
	fx *Fixture
}

// NewFixtureGenerator returns a Generator that replays fx.
func NewFixtureGenerator(fx *Fixture) *FixtureGenerator {
	return &FixtureGenerator{fx: fx}
}

// Name implements Generator.
func (g *FixtureGenerator) Name() string { return g.fx.Model }

// Generate implements Generator. Usage is left to the server's estimate.
func (g *FixtureGenerator) Generate(ctx context.Context, p *Prompt, emit func(Fragment) error) (*Result, error) {
	reply := g.pick(p)

	for _, t := range reply.Thinking {
		if err := g.pause(ctx); err != nil {
			return nil, err
		}
		if err := emit(Fragment{Thinking: t}); err != nil {
			return nil, err
		}
	}
	for _, c := range reply.Content {
		if err := g.pause(ctx); err != nil {
			return nil, err
		}
		if err := emit(Fragment{Content: strings.ReplaceAll(c, "{prompt}", p.User)}); err != nil {
			return nil, err
		}
	}
	if reply.Fail != "" {
		return nil, fmt.Errorf("%w: %s", errScripted, reply.Fail)
	}
	return &Result{}, nil
}

// pick returns the reply for p.
func (g *FixtureGenerator) pick(p *Prompt) Reply {
	prompt := strings.ToLower(p.User)
	for _, r := range g.fx.Replies {
		if r.Match != "" && strings.Contains(prompt, strings.ToLower(r.Match)) {
			return r
		}
	}
	if g.fx.Fallback != nil {
		return *g.fx.Fallback
	}
	reply := Reply{Content: []string{"You asked: ", p.User}}
	if len(p.Documents) > 0 {
		reply.Content = append(reply.Content, fmt.Sprintf(" (%d related passages found)", len(p.Documents)))
	}
	return reply
}

// pause waits for the configured delay or until ctx ends.
func (g *FixtureGenerator) pause(ctx context.Context) error {
	if g.fx.Delay == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(g.fx.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
