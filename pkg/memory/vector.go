package memory

import "math"

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// when the vectors differ in length or either has zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// scored pairs a row with its query similarity for in-process ranking.
type scored[T any] struct {
	row   T
	score float64
}

// rankBySimilarity sorts rows by descending similarity to query and keeps
// the top limit entries. Candidate sets are small (bounded fetch), so a
// simple sort is fine.
func rankBySimilarity[T any](rows []T, embeddings [][]float32, query []float32, limit int) []scored[T] {
	out := make([]scored[T], 0, len(rows))
	for i, r := range rows {
		out = append(out, scored[T]{row: r, score: cosineSimilarity(embeddings[i], query)})
	}
	// Insertion sort: candidate counts are bounded by the fetch limit.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].score > out[j-1].score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
