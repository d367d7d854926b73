package reranker

// Weights holds the ensemble weights from spec §4.5/§6.
type Weights struct {
	Dense float64
	Lex   float64
	CE    float64
}

// Normalize divides each weight by their sum when the sum isn't 1
// (spec §8 property 7). A zero sum is left unchanged to avoid dividing
// by zero; callers should not construct an all-zero Weights.
func (w Weights) Normalize() Weights {
	sum := w.Dense + w.Lex + w.CE
	if sum == 0 || sum == 1 {
		return w
	}
	return Weights{Dense: w.Dense / sum, Lex: w.Lex / sum, CE: w.CE / sum}
}

// Candidate is one item entering the ensemble scoring step: its raw
// dense and lexical scores (zero if that channel didn't produce this
// candidate) plus, once scored, its cross-encoder score.
type Candidate struct {
	DenseScore float64
	LexScore   float64
	CEScore    float64
}

// Combine applies spec §4.5's ensemble formula to every candidate,
// min-max normalizing dense and lexical scores within the candidate
// set before weighting. When w.CE is zero, ce_score contributes
// nothing and the caller should not have called the cross-encoder at
// all (see ShouldScore).
func Combine(candidates []Candidate, w Weights) []float64 {
	w = w.Normalize()

	denseNorm := minMaxNormalize(extract(candidates, func(c Candidate) float64 { return c.DenseScore }))
	lexNorm := minMaxNormalize(extract(candidates, func(c Candidate) float64 { return c.LexScore }))

	final := make([]float64, len(candidates))
	for i, c := range candidates {
		final[i] = w.Dense*denseNorm[i] + w.Lex*lexNorm[i] + w.CE*c.CEScore
	}
	return final
}

// ShouldScore reports whether the cross-encoder should be called at
// all (spec §4.5: "When the cross-encoder is disabled (w_ce = 0), the
// adapter must not call the model").
func ShouldScore(w Weights) bool {
	return w.Normalize().CE > 0
}

func extract(candidates []Candidate, f func(Candidate) float64) []float64 {
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = f(c)
	}
	return out
}

func minMaxNormalize(values []float64) []float64 {
	if len(values) == 0 {
		return values
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(values))
	if max == min {
		for i, v := range values {
			if v == 0 {
				out[i] = 0
			} else {
				out[i] = 1
			}
		}
		return out
	}
	for i, v := range values {
		out[i] = (v - min) / (max - min)
	}
	return out
}
