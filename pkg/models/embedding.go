package models

import (
	"encoding/binary"
	"math"

	"github.com/developer-mesh/memory-engine/pkg/errors"
)

// EmbeddingDimension identifies a physical embedding store. Vectors are
// partitioned by dimension so dimension-specific indexes stay possible and
// unrelated models never share a table.
type EmbeddingDimension int

const (
	// Dimension384 covers 384-wide vectors (MiniLM family)
	Dimension384 EmbeddingDimension = 384
	// Dimension1024 covers 1024-wide vectors
	Dimension1024 EmbeddingDimension = 1024
	// Dimension1536 covers 1536-wide vectors (OpenAI small)
	Dimension1536 EmbeddingDimension = 1536
	// Dimension3072 covers 3072-wide vectors (OpenAI large)
	Dimension3072 EmbeddingDimension = 3072
	// DimensionOther covers every remaining width
	DimensionOther EmbeddingDimension = 0
)

// DimensionFor routes a vector length to its physical store.
func DimensionFor(length int) EmbeddingDimension {
	switch length {
	case 384:
		return Dimension384
	case 1024:
		return Dimension1024
	case 1536:
		return Dimension1536
	case 3072:
		return Dimension3072
	default:
		return DimensionOther
	}
}

// TableSuffix returns the suffix of the physical table for the dimension.
func (d EmbeddingDimension) TableSuffix() string {
	switch d {
	case Dimension384:
		return "384"
	case Dimension1024:
		return "1024"
	case Dimension1536:
		return "1536"
	case Dimension3072:
		return "3072"
	default:
		return "other"
	}
}

// AllDimensions lists every physical embedding store.
func AllDimensions() []EmbeddingDimension {
	return []EmbeddingDimension{Dimension384, Dimension1024, Dimension1536, Dimension3072, DimensionOther}
}

// OwnerKind identifies what an embedding belongs to.
type OwnerKind string

const (
	// OwnerEpisode marks an episode embedding
	OwnerEpisode OwnerKind = "episode"
	// OwnerPattern marks a pattern embedding
	OwnerPattern OwnerKind = "pattern"
)

// CosineSimilarity computes the cosine similarity of two vectors.
// Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
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

// PackEmbedding serializes a vector as little-endian float32 bytes.
// The fixed layout keeps stored blobs portable and highly compressible.
func PackEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// UnpackEmbedding deserializes little-endian float32 bytes into a vector.
func UnpackEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, errors.Newf(errors.KindSerialization,
			"embedding blob length %d is not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
