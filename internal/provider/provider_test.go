package provider

import (
	"slices"
	"testing"
)

func TestSortHits_DeterministicTies(t *testing.T) {
	hits := []Hit{
		{ID: 9, Score: 0.5},
		{ID: 3, Score: 0.9},
		{ID: 7, Score: 0.5},
		{ID: 1, Score: 0.5},
	}
	SortHits(hits)

	if got := HitIDs(hits); !slices.Equal(got, []int64{3, 1, 7, 9}) {
		t.Errorf("order = %v, want [3 1 7 9]", got)
	}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"valid", Request{Vector: []float32{1}, TopK: 10}, true},
		{"empty vector", Request{TopK: 10}, false},
		{"zero top_k", Request{Vector: []float32{1}}, false},
	}
	for _, tc := range tests {
		err := tc.req.Validate(OpQuery)
		if (err == nil) != tc.ok {
			t.Errorf("%s: Validate() = %v", tc.name, err)
		}
		if err != nil && KindOf(err) != KindInvalidArgument {
			t.Errorf("%s: kind = %s, want invalid_argument", tc.name, KindOf(err))
		}
	}
}
