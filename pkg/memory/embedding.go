// Package memory is the tenant-scoped state store: working, episodic,
// semantic, and procedural memory plus the plan/task execution contracts.
// Vector search runs over fixed-dimension embeddings produced by an
// injected Embedder.
package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Embedder turns text into a fixed-dimension vector. Implementations must
// be deterministic per input or search quality degrades silently.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// HashingEmbedder is a deterministic, dependency-free embedder: tokens are
// hashed into buckets with alternating sign and the result is
// L2-normalized. Suitable for development and tests; real deployments
// inject a model-backed implementation.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder creates a hashing embedder with the given dimension.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	return &HashingEmbedder{dim: dim}
}

// Dim returns the vector dimension.
func (e *HashingEmbedder) Dim() int { return e.dim }

// Embed hashes each whitespace token into a bucket and normalizes.
func (e *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dim))
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	normalize(vec)
	return vec, nil
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}
