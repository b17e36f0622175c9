package embed

import (
	"context"
	"math"
	"sync/atomic"
)

// countingEmbedder returns a fixed vector and counts calls.
type countingEmbedder struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	batchSizes []int
	vector     []float32
	closed     atomic.Bool
}

func newCountingEmbedder(dims int) *countingEmbedder {
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = float32(i+1) * 0.001
	}
	return &countingEmbedder{vector: vec}
}

func (m *countingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	m.embedCalls.Add(1)
	return m.vector, nil
}

func (m *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	m.batchSizes = append(m.batchSizes, len(texts))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = m.vector
	}
	return out, nil
}

func (m *countingEmbedder) Dimensions() int                  { return len(m.vector) }
func (m *countingEmbedder) ModelName() string                { return "counting" }
func (m *countingEmbedder) Available(_ context.Context) bool { return true }
func (m *countingEmbedder) Close() error {
	m.closed.Store(true)
	return nil
}

// vectorMagnitude computes the magnitude of a vector
func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity computes cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
