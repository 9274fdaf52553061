// Package recall scores query results against precomputed ground truth.
package recall

import "github.com/kailas-cloud/vecbench/internal/domain"

// Evaluate returns |returned ∩ gt[:topK]| / min(topK, |gt|).
// ok is false when gt is empty or topK is not positive; such a sample is
// undefined and must be left out of aggregation rather than counted as zero.
func Evaluate(returned, gt []int64, topK int) (float64, bool) {
	if topK <= 0 || len(gt) == 0 {
		return 0, false
	}
	if len(gt) > topK {
		gt = gt[:topK]
	}

	relevant := make(map[int64]struct{}, len(gt))
	for _, id := range gt {
		relevant[id] = struct{}{}
	}

	if len(returned) > topK {
		returned = returned[:topK]
	}
	hits := 0
	for _, id := range returned {
		if _, ok := relevant[id]; ok {
			hits++
			delete(relevant, id) // duplicates in returned count once
		}
	}
	return float64(hits) / float64(len(gt)), true
}

// ForQuery scores returned ids against the ground truth the query carries
// for pred.
func ForQuery(q domain.Query, pred domain.Predicate, returned []int64, topK int) (float64, bool) {
	gt, ok := q.GroundTruth(pred, topK)
	if !ok {
		return 0, false
	}
	return Evaluate(returned, gt, topK)
}
