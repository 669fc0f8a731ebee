package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestRankBySimilarity_OrdersDescending(t *testing.T) {
	query := []float32{1, 0}
	rows := []string{"far", "near", "mid"}
	embeddings := [][]float32{
		{0, 1},      // orthogonal
		{1, 0},      // identical
		{0.7, 0.7},  // in between
	}

	ranked := rankBySimilarity(rows, embeddings, query, 0)
	assert.Equal(t, []string{"near", "mid", "far"},
		[]string{ranked[0].row, ranked[1].row, ranked[2].row})
}

func TestRankBySimilarity_Limit(t *testing.T) {
	query := []float32{1, 0}
	rows := []int{1, 2, 3, 4}
	embeddings := [][]float32{{1, 0}, {0, 1}, {1, 0}, {0.5, 0.5}}

	ranked := rankBySimilarity(rows, embeddings, query, 2)
	assert.Len(t, ranked, 2)
	assert.Equal(t, 1.0, ranked[0].score)
}
