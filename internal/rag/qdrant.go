package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// Payload keys written for every point. Anything else is passage metadata.
const (
	payloadText       = "text"
	payloadDocumentID = "document_id"
	payloadSource     = "source_name"
	payloadChunk      = "chunk"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the collection to use (default: ragchat).
	Collection string

	// VectorSize is the embedding dimensionality, used when the collection
	// has to be created.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant collection.
type QdrantStore struct {
	client *qdrant.Client
	cfg    QdrantConfig
}

// NewQdrantStore connects to Qdrant and creates the collection if it does
// not exist yet.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "ragchat"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	s := &QdrantStore{client: client, cfg: cfg}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}
	if s.cfg.VectorSize == 0 {
		return fmt.Errorf("qdrant: vector size is required to create collection %q", s.cfg.Collection)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Upsert implements VectorStore.
func (s *QdrantStore) Upsert(ctx context.Context, passages []Passage, vectors [][]float32) error {
	if len(passages) != len(vectors) {
		return fmt.Errorf("qdrant: upsert: %d passages but %d vectors", len(passages), len(vectors))
	}
	if len(passages) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(passages))
	for i, p := range passages {
		payload, err := qdrant.TryValueMap(passagePayload(p))
		if err != nil {
			return fmt.Errorf("qdrant: payload of %s: %w", p.ID, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Search implements VectorStore.
func (s *QdrantStore) Search(ctx context.Context, query []float32, topK int, docIDs []int64) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	limit := uint64(topK)
	req := &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(docIDs) > 0 {
		req.Filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatchInts(payloadDocumentID, docIDs...)}}
	}

	results, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{Passage: passageFromPayload(r.GetId().GetUuid(), r.GetPayload()), Score: r.GetScore()})
	}
	return hits, nil
}

// Name labels the store in readiness responses.
func (s *QdrantStore) Name() string { return "qdrant" }

// Ping checks that the Qdrant service is alive.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func passagePayload(p Passage) map[string]any {
	payload := map[string]any{
		payloadText:       p.Text,
		payloadDocumentID: p.DocumentID,
		payloadSource:     p.SourceName,
		payloadChunk:      p.Chunk,
	}
	for k, v := range p.Metadata {
		if _, reserved := payload[k]; !reserved {
			payload[k] = v
		}
	}
	return payload
}

func passageFromPayload(id string, payload map[string]*qdrant.Value) Passage {
	p := Passage{ID: id, Metadata: make(map[string]string)}
	for k, v := range payload {
		switch k {
		case payloadText:
			p.Text = v.GetStringValue()
		case payloadDocumentID:
			p.DocumentID = v.GetIntegerValue()
		case payloadSource:
			p.SourceName = v.GetStringValue()
		case payloadChunk:
			p.Chunk = int(v.GetIntegerValue())
		default:
			if sv := strings.TrimSpace(v.GetStringValue()); sv != "" {
				p.Metadata[k] = sv
			}
		}
	}
	return p
}
