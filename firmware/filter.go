package firmware

import "math"

// Filter coefficient bit layout of the beta byte.
const (
	betaSign     = 0x02
	betaSaturate = 0x01
)

// filterCoefficients derives the chip's one-pole/resonance register
// values from a cutoff in Hz and a resonance in 0..1. A cutoff at or
// above CutoffMax bypasses the filter.
func filterCoefficients(cutoff, resonance, clockHz float64) (alpha, beta, gamma byte) {
	if cutoff >= CutoffMax {
		return 0xFF, 0, 0
	}
	if cutoff < 0 {
		cutoff = 0
	}
	resonance = clampFloat(resonance, 0, 1)
	w := 2 * math.Pi * cutoff / clockHz

	alpha = byte(clampFloat(math.Floor((1-math.Exp(-w))*255), 0, 255))

	raw := 2 * resonance * math.Cos(w)
	mag := math.Floor(math.Abs(raw) * 63)
	beta = (byte(int(mag)&0x3F) << 2)
	if raw < 0 {
		beta |= betaSign
	}
	if mag > 63 {
		beta |= betaSaturate
	}

	gamma = byte(clampFloat(math.Floor(resonance*resonance*255), 0, 255))
	return alpha, beta, gamma
}

// controlCutoff maps a 7-bit controller value onto 20 Hz..CutoffMax
// exponentially; 127 is exactly CutoffMax (bypass).
func controlCutoff(v uint8) float64 {
	if v >= 127 {
		return CutoffMax
	}
	return 20 * math.Pow(CutoffMax/20, float64(v)/127)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
