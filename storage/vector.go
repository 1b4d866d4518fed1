package storage

import (
	"math"
	"slices"

	"github.com/poiesic/ragjobs/core"
)

// NormalizeVector normalizes a vector to unit length.
// Returns a new vector. If the input is a zero vector, returns a zero vector.
func NormalizeVector(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}

	var magnitude float32
	for _, val := range v {
		magnitude += val * val
	}
	magnitude = float32(math.Sqrt(float64(magnitude)))

	result := make([]float32, len(v))
	if magnitude == 0 {
		return result
	}
	for i, val := range v {
		result[i] = val / magnitude
	}
	return result
}

// DotProduct calculates the dot product of two vectors.
// For normalized vectors this is their cosine similarity.
func DotProduct(a, b []float32) float32 {
	var sum float32
	minLen := min(len(a), len(b))
	for i := 0; i < minLen; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// HitCollector keeps the best scoring chunks seen during a scan.
type HitCollector struct {
	vector   []float32
	minScore float32
	hits     []core.SearchHit
}

// NewHitCollector scores candidates against vector and drops those below minScore.
func NewHitCollector(vector []float32, minScore float32) *HitCollector {
	return &HitCollector{vector: vector, minScore: minScore}
}

// Offer scores chunk and keeps it if it clears the threshold.
// Chunks without a vector are skipped.
func (c *HitCollector) Offer(chunk core.Chunk) {
	if len(chunk.Vector) == 0 {
		return
	}
	score := DotProduct(c.vector, chunk.Vector)
	if score >= c.minScore {
		c.hits = append(c.hits, core.SearchHit{Chunk: chunk, Score: score})
	}
}

// Top returns up to limit hits ordered by score descending.
// Ties keep scan order.
func (c *HitCollector) Top(limit int) []core.SearchHit {
	slices.SortStableFunc(c.hits, func(a, b core.SearchHit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if limit > 0 && len(c.hits) > limit {
		return c.hits[:limit]
	}
	return c.hits
}
