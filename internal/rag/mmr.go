package rag

import (
	"fmt"
	"math"
)

// mmrLambda balances relevance against redundancy during maximal-marginal-
// relevance selection. 0.5 weighs both equally, matching the common default.
const mmrLambda = 0.5

// maximalMarginalRelevance greedily selects k documents from candidates,
// trading off similarity to the query against similarity to documents that
// were already selected. Candidates must carry their dense vectors; a missing
// vector is an error so the caller can fall back to plain similarity search.
func maximalMarginalRelevance(query []float32, candidates []Document, k int) ([]Document, error) {
	if k <= 0 || len(candidates) == 0 {
		return nil, nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		if len(c.Vector) == 0 {
			return nil, fmt.Errorf("rag: candidate %q has no vector for MMR re-ranking", c.ID)
		}
		sim, err := cosineSimilarity(query, c.Vector)
		if err != nil {
			return nil, err
		}
		relevance[i] = sim
	}

	selected := make([]Document, 0, k)
	picked := make([]bool, len(candidates))
	selectedVecs := make([][]float32, 0, k)

	for len(selected) < k {
		best := -1
		bestScore := math.Inf(-1)

		for i := range candidates {
			if picked[i] {
				continue
			}
			// Redundancy is the max similarity to anything already chosen.
			redundancy := 0.0
			for _, sv := range selectedVecs {
				sim, err := cosineSimilarity(candidates[i].Vector, sv)
				if err != nil {
					return nil, err
				}
				if sim > redundancy {
					redundancy = sim
				}
			}
			score := mmrLambda*relevance[i] - (1-mmrLambda)*redundancy
			if score > bestScore {
				bestScore = score
				best = i
			}
		}

		picked[best] = true
		selected = append(selected, candidates[best])
		selectedVecs = append(selectedVecs, candidates[best].Vector)
	}

	return selected, nil
}

// cosineSimilarity returns the cosine of the angle between two vectors.
// Zero-magnitude vectors yield zero similarity rather than NaN.
func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("rag: vector dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
