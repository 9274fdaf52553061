package domain

// Query is a read-only benchmark query with its precomputed ground truth.
type Query struct {
	Text   string
	Dense  []float32
	Recall map[PredicateKey][]int64
}

// GroundTruth returns up to topK relevant ids for the predicate, most relevant
// first. Negative ids are padding and are skipped. ok is false when no entry
// exists for the predicate.
func (q Query) GroundTruth(p Predicate, topK int) (ids []int64, ok bool) {
	all, ok := q.Recall[p.Key()]
	if !ok {
		return nil, false
	}
	ids = make([]int64, 0, min(topK, len(all)))
	for _, id := range all {
		if len(ids) == topK {
			break
		}
		if id < 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids, true
}
