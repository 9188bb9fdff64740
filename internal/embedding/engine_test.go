package embedding

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	c := []float32{0, 1, 0}

	sim, err := CosineSimilarity(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(sim-1.0) > 1e-9 {
		t.Errorf("identical vectors should score 1.0, got %f", sim)
	}

	sim, err = CosineSimilarity(a, c)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(sim) > 1e-9 {
		t.Errorf("orthogonal vectors should score 0, got %f", sim)
	}

	if _, err := CosineSimilarity(a, []float32{1, 0}); err == nil {
		t.Error("expected error for dimension mismatch")
	}
}

func TestDistanceToSimilarity(t *testing.T) {
	if got := DistanceToSimilarity(0); got != 1.0 {
		t.Errorf("zero distance must map to 1.0, got %f", got)
	}
	if got := DistanceToSimilarity(1); got != 0.5 {
		t.Errorf("distance 1 must map to 0.5, got %f", got)
	}
	if DistanceToSimilarity(100) >= DistanceToSimilarity(1) {
		t.Error("similarity must decay with distance")
	}
}

func TestFindTopK(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{
		{0, 1},     // orthogonal
		{1, 0},     // identical
		{0.9, 0.1}, // close
		{-1, 0},    // opposite
	}

	results, err := FindTopK(query, corpus, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Index != 1 {
		t.Errorf("identical vector should rank first, got index %d", results[0].Index)
	}
	if results[1].Index != 2 {
		t.Errorf("close vector should rank second, got index %d", results[1].Index)
	}
}
