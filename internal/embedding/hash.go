package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/starford/lifeagent/internal/textnorm"
)

// Hash is an offline backend that maps term and bigram features into a
// fixed number of signed buckets. Texts sharing terms get positive cosine
// similarity; disjoint texts score near zero.
type Hash struct {
	dimension int
}

// NewHash returns a hashing backend producing vectors of length dimension.
func NewHash(dimension int) *Hash {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Hash{dimension: dimension}
}

// Embed implements Backend.
func (h *Hash) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *Hash) vector(text string) []float32 {
	v := make([]float32, h.dimension)
	terms := textnorm.Terms(text)
	for i, term := range terms {
		h.add(v, term, 1)
		if i > 0 {
			h.add(v, terms[i-1]+" "+term, 0.5)
		}
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

func (h *Hash) add(v []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	bucket := int(sum % uint64(h.dimension))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[bucket] += weight
}
