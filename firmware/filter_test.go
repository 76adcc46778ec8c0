package firmware

import (
	"math"
	"testing"
)

func TestFilterCoefficients_Bypass(t *testing.T) {
	a, b, g := filterCoefficients(CutoffMax, 0.9, 62500)
	if a != 0xFF || b != 0 || g != 0 {
		t.Errorf("got %#x %#x %#x, want 0xff 0 0", a, b, g)
	}
}

func TestFilterCoefficients(t *testing.T) {
	const clock = 62500.0
	cutoff, res := 1000.0, 0.5
	a, b, g := filterCoefficients(cutoff, res, clock)

	w := 2 * math.Pi * cutoff / clock
	wantA := byte(math.Floor((1 - math.Exp(-w)) * 255))
	wantMag := byte(math.Floor(2 * res * math.Cos(w) * 63))
	if a != wantA {
		t.Errorf("alpha: got %d, want %d", a, wantA)
	}
	if b>>2 != wantMag || b&(betaSign|betaSaturate) != 0 {
		t.Errorf("beta: got %#x, want magnitude %d without flags", b, wantMag)
	}
	if g != 63 {
		t.Errorf("gamma: got %d, want 63", g)
	}
}

func TestFilterCoefficients_SignAndSaturate(t *testing.T) {
	// cos is negative above a quarter of the clock
	_, b, _ := filterCoefficients(19000, 1, 62500)
	if b&betaSign == 0 {
		t.Errorf("beta %#x: sign bit not set", b)
	}
	_, b, _ = filterCoefficients(10, 1, 62500)
	if b&betaSaturate == 0 {
		t.Errorf("beta %#x: saturate bit not set", b)
	}
}

func TestControlCutoff(t *testing.T) {
	if got := controlCutoff(127); got != CutoffMax {
		t.Errorf("127: got %v, want %v", got, CutoffMax)
	}
	if got := controlCutoff(0); got != 20 {
		t.Errorf("0: got %v, want 20", got)
	}
	if controlCutoff(64) >= controlCutoff(65) {
		t.Error("cutoff curve is not increasing")
	}
}
