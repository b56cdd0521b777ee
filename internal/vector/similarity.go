package vector

import "math"

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine returns the cosine similarity of a and b clamped to [0, 1]. A zero
// vector is similar to nothing. qNorm is the precomputed norm of a.
func cosine(a []float32, qNorm float64, b []float32) float64 {
	bNorm := norm(b)
	if qNorm == 0 || bNorm == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	sim := dot / (qNorm * bNorm)
	switch {
	case sim < 0 || math.IsNaN(sim):
		return 0
	case sim > 1:
		return 1
	default:
		return sim
	}
}

// CosineSimilarity is the similarity used for ranking, exposed for callers
// that score embeddings outside the store.
func CosineSimilarity(a, b []float32) float64 {
	return cosine(a, norm(a), b)
}
