package crisis

import "math"

// Cosine returns the cosine similarity of a and b, clamped to [-1, 1].
// ok is false when the similarity is undefined: empty or mismatched vectors,
// a zero-magnitude vector, or a non-finite result.
func Cosine(a, b []float32) (float64, bool) {
	return cosineWithNorms(a, magnitude(a), b, magnitude(b))
}

func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosineWithNorms(a []float32, na float64, b []float32, nb float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	if na == 0 || nb == 0 {
		return 0, false
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	s := dot / (na * nb)
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, false
	}
	return max(-1, min(1, s)), true
}
