package faultinject

import "testing"

func TestSetHas(t *testing.T) {
	s := NewSet(1, 3, 5)

	for _, seq := range []uint32{1, 3, 5} {
		if !s.Has(seq) {
			t.Errorf("Has(%d) = false, want true", seq)
		}
	}
	for _, seq := range []uint32{0, 2, 4, 6} {
		if s.Has(seq) {
			t.Errorf("Has(%d) = true, want false", seq)
		}
	}
}

func TestZeroSetHasNothing(t *testing.T) {
	var s Set
	if s.Has(0) {
		t.Error("zero-value Set should not contain seq 0")
	}
}
