package embedding

import (
	"crypto/sha512"
	"math"
	"strings"
)

// hashEmbedding produces a deterministic pseudo-embedding from text alone.
// Equal queries map to equal vectors, so exact repeats still hit the
// similarity tier, while unrelated queries land far apart. The SHA-384
// digest is re-hashed in a chain until dim values are filled.
func hashEmbedding(text string, dim int) []float32 {
	vec := make([]float32, 0, dim)
	digest := sha512.Sum384([]byte(strings.ToLower(text)))

	for len(vec) < dim {
		for _, b := range digest {
			if len(vec) == dim {
				break
			}
			vec = append(vec, (float32(b)-128)/128)
		}
		digest = sha512.Sum384(digest[:])
	}

	return l2Normalize(vec)
}

// l2Normalize normalizes a vector to unit length.
func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}

	norm := float32(math.Sqrt(sum))
	if norm == 0 {
		return v
	}

	result := make([]float32, len(v))
	for i, x := range v {
		result[i] = x / norm
	}

	return result
}
