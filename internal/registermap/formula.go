package registermap

import (
	"fmt"
	"math"
)

// arity returns the allowed input count range for the formula kind.
func (k FormulaKind) arity() (minInputs, maxInputs int, ok bool) {
	switch k {
	case FormulaCombine32, FormulaDecimalPoint, FormulaDifference, FormulaRatio:
		return 2, 2, true
	case FormulaCombine64:
		return 4, 4, true
	case FormulaLinear:
		return 1, 1, true
	case FormulaSum, FormulaProduct:
		return 1, math.MaxInt, true
	default:
		return 0, 0, false
	}
}

// validate checks kind and input count.
func (f *Formula) validate() error {
	lo, hi, ok := f.Kind.arity()
	if !ok {
		return fmt.Errorf("unknown formula kind %q", f.Kind)
	}
	if n := len(f.Inputs); n < lo || n > hi {
		return fmt.Errorf("formula %s takes %d..%d inputs, got %d", f.Kind, lo, hi, n)
	}
	return nil
}

// Eval computes the formula over input values given in Inputs order.
// Any Sentinel input, a zero divisor, or a non-finite result yields Sentinel.
func (f *Formula) Eval(in []float64) float64 {
	for _, v := range in {
		if v == Sentinel {
			return Sentinel
		}
	}

	var out float64
	switch f.Kind {
	case FormulaCombine32:
		order := f.WordOrder
		if order == "" {
			order = WordOrderBig
		}
		u := joinWords(toWord(in[0]), toWord(in[1]), order)
		if f.Signed {
			out = float64(int32(u)) //nolint:gosec // two's complement reinterpretation
		} else {
			out = float64(u)
		}
	case FormulaCombine64:
		var u uint64
		for _, v := range in {
			u = u<<wordBits | uint64(toWord(v))
		}
		if f.Signed {
			out = float64(int64(u)) //nolint:gosec // two's complement reinterpretation
		} else {
			out = float64(u)
		}
	case FormulaDecimalPoint:
		out = in[0] / math.Pow(decimalTo, math.Round(in[1]))
	case FormulaSum:
		for _, v := range in {
			out += v
		}
	case FormulaProduct:
		out = 1
		for _, v := range in {
			out *= v
		}
	case FormulaDifference:
		out = in[0] - in[1]
	case FormulaRatio:
		if in[1] == 0 {
			return Sentinel
		}
		out = in[0] / in[1]
	case FormulaLinear:
		out = (in[0]+f.N1)*f.N2 + f.N3
	default:
		return Sentinel
	}

	if math.IsNaN(out) || math.IsInf(out, 0) {
		return Sentinel
	}
	return out
}

// toWord recovers the 16-bit register behind a decoded u16 or i16 value.
func toWord(v float64) uint16 {
	return uint16(int64(v) & wordMask) //nolint:gosec // masked to 16 bits
}
