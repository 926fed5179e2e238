package report

import (
	"math"
	"math/big"
	"strconv"
)

// formatTopPercent renders a 0–1 ratio as a percentage with one decimal.
func formatTopPercent(n *Node) string {
	if !n.Truthy() {
		return NoPercentage
	}
	ratio, ok := n.Float()
	if !ok {
		return NoPercentage
	}
	return toFixed1(ratio * 100)
}

func ratioValue(n *Node) *float64 {
	if !n.Truthy() {
		return nil
	}
	ratio, ok := n.Float()
	if !ok {
		return nil
	}
	return &ratio
}

// toFixed1 rounds to one decimal place with exact halves going away from
// zero. strconv rounds exact halves to even, so those are handled first.
func toFixed1(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NoPercentage
	}

	abs := math.Abs(v)
	scaled := new(big.Float).SetPrec(128).SetFloat64(abs)
	scaled.Mul(scaled, big.NewFloat(10))
	whole, _ := scaled.Int(nil)
	frac := new(big.Float).SetPrec(128).Sub(scaled, new(big.Float).SetPrec(128).SetInt(whole))

	if frac.Cmp(big.NewFloat(0.5)) == 0 {
		whole.Add(whole, big.NewInt(1))
		f, _ := new(big.Float).SetInt(whole).Float64()
		abs = f / 10
	}

	// Negative values keep their sign even when they round to zero.
	out := strconv.FormatFloat(abs, 'f', 1, 64)
	if v < 0 {
		out = "-" + out
	}
	return out
}

// leadingInt parses the digits at the start of s.
func leadingInt(s string) (int, bool) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
