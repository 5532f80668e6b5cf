// Package embedding turns query text into dense vectors for the learning
// store. A remote OpenAI-compatible service is preferred; when none is
// configured, or a call fails, a deterministic hash embedding keeps the
// routing memory functional with degraded similarity quality.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/opsfabric/activator/internal/config"
	"github.com/opsfabric/activator/internal/pkg/errors"
	"github.com/opsfabric/activator/internal/pkg/logger"
)

const remoteTimeout = 10 * time.Second

// Embedder generates dense embeddings from query text.
type Embedder struct {
	client openai.EmbeddingService
	remote bool
	cfg    config.EmbeddingConfig
	dim    int
	log    *logger.Logger
}

// NewEmbedder creates an embedder. dim is the vector size of the target
// collections; fallback vectors are always produced at exactly this size.
func NewEmbedder(cfg config.EmbeddingConfig, dim int, log *logger.Logger) *Embedder {
	e := &Embedder{
		cfg: cfg,
		dim: dim,
		log: log,
	}

	if cfg.ServiceURL == "" {
		log.Info("No embedding service configured, using hash embeddings")
		return e
	}

	opts := []option.RequestOption{
		option.WithBaseURL(cfg.ServiceURL),
		option.WithRequestTimeout(remoteTimeout),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	e.client = openai.NewEmbeddingService(opts...)
	e.remote = true
	log.Info("Using embedding service", "url", cfg.ServiceURL, "model", cfg.Model)

	return e
}

// Embed returns a vector for text. Remote failures fall back to the hash
// embedding so the routing path never blocks on the embedding service.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.remote {
		vec, err := e.embedRemote(ctx, text)
		if err == nil {
			return vec, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.log.Warn("Embedding service failed, falling back to hash embedding", "error", err)
	}

	return hashEmbedding(text, e.dim), nil
}

// EmbedBatch returns one vector per text, preserving order. The remote path
// sends the whole batch in a single request; on failure every text falls
// back to its hash embedding.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if e.remote {
		vecs, err := e.embedBatchRemote(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.log.Warn("Embedding service failed, falling back to hash embeddings",
			"error", err, "batch_size", len(texts))
	}

	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = hashEmbedding(text, e.dim)
	}

	return vecs, nil
}

func (e *Embedder) embedRemote(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Model: e.cfg.Model,
	})
	if err != nil {
		return nil, errors.EmbeddingError(err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New(errors.CodeEmbedding, "embedding service returned no data")
	}

	return e.toVector(resp.Data[0].Embedding)
}

func (e *Embedder) embedBatchRemote(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: e.cfg.Model,
	})
	if err != nil {
		return nil, errors.EmbeddingError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.New(errors.CodeEmbedding,
			fmt.Sprintf("embedding service returned %d vectors for %d inputs", len(resp.Data), len(texts)))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(vecs) {
			return nil, errors.New(errors.CodeEmbedding,
				fmt.Sprintf("embedding index %d out of range", d.Index))
		}
		vec, err := e.toVector(d.Embedding)
		if err != nil {
			return nil, err
		}
		vecs[i] = vec
	}

	return vecs, nil
}

func (e *Embedder) toVector(raw []float64) ([]float32, error) {
	if len(raw) != e.dim {
		return nil, errors.New(errors.CodeEmbedding,
			fmt.Sprintf("embedding dimension %d does not match collection size %d", len(raw), e.dim))
	}

	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}

	return l2Normalize(vec), nil
}
