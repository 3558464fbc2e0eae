package pngshrink

import "testing"

func noisyImage(t *testing.T) *PngImage {
	data := make([]byte, 32*32*3)
	seed := uint32(0x12345678)
	for i := range data {
		seed = seed*1664525 + 1013904223
		data[i] = byte(seed >> 24)
	}
	return newTestImage(t, RGB, 8, 32, 32, data)
}

func flatImage(t *testing.T) *PngImage {
	return newTestImage(t, RGB, 8, 32, 32, make([]byte, 32*32*3))
}

func TestEvaluatorPicksSmallerCandidate(t *testing.T) {
	eval := NewEvaluator(NewDeadline(nil), []RowFilter{FilterNone, FilterBigrams}, 5)
	flat := flatImage(t)
	eval.TryImage(noisyImage(t))
	eval.TryImage(flat)

	result := eval.GetBestCandidate()
	if result == nil {
		t.Fatal("no candidate returned")
	}
	if result.Image.Raw != flat {
		t.Error("evaluator should retain the better-compressing image")
	}
	if !result.IsReduction {
		t.Error("candidate from TryImage must be flagged as a reduction")
	}
	if len(result.Image.IdatData) == 0 || len(result.Image.Filtered) == 0 {
		t.Error("winner must carry its encoded forms")
	}
}

func TestEvaluatorBaselineWinsTies(t *testing.T) {
	eval := NewEvaluator(NewDeadline(nil), []RowFilter{FilterNone}, 5)
	img := flatImage(t)
	eval.TryImage(img)
	eval.SetBaseline(img)

	result := eval.GetBestCandidate()
	if result == nil {
		t.Fatal("no candidate returned")
	}
	if result.IsReduction {
		t.Error("a reduction that does not strictly beat the baseline must lose")
	}
}

func TestEvaluatorNoCandidates(t *testing.T) {
	eval := NewEvaluator(NewDeadline(nil), []RowFilter{FilterNone}, 5)
	if eval.GetBestCandidate() != nil {
		t.Error("evaluator with no submissions must return nil")
	}
}

func TestEvaluatorSeededCeiling(t *testing.T) {
	eval := NewEvaluator(NewDeadline(nil), []RowFilter{FilterNone}, 5)
	// A one-byte ceiling makes every trial overshoot.
	eval.SetBestSize(1)
	eval.TryImage(noisyImage(t))
	if eval.GetBestCandidate() != nil {
		t.Error("trials above the seeded ceiling must be discarded")
	}
}
