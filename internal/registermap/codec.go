package registermap

import (
	"fmt"
	"math"
)

// Raw register encoding constants.
const (
	wordBits  = 16
	wordMask  = 0xFFFF
	maxBit    = 15
	maxU16    = math.MaxUint16
	maxU32    = math.MaxUint32
	decimalTo = 10
)

// Decode converts the raw words of a parameter into its engineering value.
//
// The words must come from a single read of p.Words() consecutive registers
// starting at p.Address. Table lookups that miss yield Sentinel with an empty
// label rather than an error; the device answered, the value is just unknown.
//
// Parameters:
//   - words: Raw registers, at least p.Words() long
//
// Returns:
//   - float64: Scaled value
//   - string: Table label (empty unless a table entry with a label matched)
//   - error: ErrShortRead or ErrInvalidParameter
func (p *Parameter) Decode(words []uint16) (float64, string, error) {
	raw, err := p.decodeRaw(words)
	if err != nil {
		return Sentinel, "", err
	}

	var (
		value float64
		label string
	)
	switch p.Scale.Kind {
	case ScaleNone:
		value = raw
	case ScaleLinear:
		value = raw*p.factor() + p.Scale.Offset
	case ScaleTable:
		entry, ok := p.lookupRaw(int64(raw))
		if !ok {
			return Sentinel, "", nil
		}
		value, label = entry.Value, entry.Label
	default:
		return Sentinel, "", fmt.Errorf("%w: %s: scale %q has no raw decoding", ErrInvalidParameter, p.Name, p.Scale.Kind)
	}

	return p.round(value), label, nil
}

// Encode converts an engineering value into the raw words to write.
//
// Returns:
//   - []uint16: p.Words() registers in the parameter's word order
//   - error: ErrNotEncodable if the value has no raw representation
func (p *Parameter) Encode(value float64) ([]uint16, error) {
	var raw float64
	switch p.Scale.Kind {
	case ScaleNone:
		raw = value
	case ScaleLinear:
		raw = (value - p.Scale.Offset) / p.factor()
	case ScaleTable:
		entry, ok := p.lookupValue(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s: %v is not in the lookup table", ErrNotEncodable, p.Name, value)
		}
		raw = float64(entry.Raw)
	default:
		return nil, fmt.Errorf("%w: %s is computed", ErrNotWritable, p.Name)
	}

	return p.encodeRaw(raw)
}

// decodeRaw interprets the words per format, word order and bit.
func (p *Parameter) decodeRaw(words []uint16) (float64, error) {
	n := p.Words()
	if n == 0 {
		return 0, fmt.Errorf("%w: %s: unknown format %q", ErrInvalidParameter, p.Name, p.Format)
	}
	if len(words) < n {
		return 0, fmt.Errorf("%w: %s needs %d words, got %d", ErrShortRead, p.Name, n, len(words))
	}

	if p.Bit != nil {
		return float64((words[0] >> *p.Bit) & 1), nil
	}

	switch p.Format {
	case FormatU16:
		return float64(words[0]), nil
	case FormatI16:
		return float64(int16(words[0])), nil //nolint:gosec // two's complement reinterpretation
	}

	u := joinWords(words[0], words[1], p.wordOrder())
	switch p.Format {
	case FormatU32:
		return float64(u), nil
	case FormatI32:
		return float64(int32(u)), nil //nolint:gosec // two's complement reinterpretation
	default: // FormatF32
		return float64(math.Float32frombits(u)), nil
	}
}

// encodeRaw is the inverse of decodeRaw for non-bit parameters.
func (p *Parameter) encodeRaw(raw float64) ([]uint16, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotEncodable, p.Name, raw)
	}

	var u uint32
	switch p.Format {
	case FormatF32:
		u = math.Float32bits(float32(raw))
	case FormatU16, FormatI16, FormatU32, FormatI32:
		r := math.Round(raw)
		lo, hi := p.Format.bounds()
		if r < lo || r > hi {
			return nil, fmt.Errorf("%w: %s: raw %v outside [%v, %v]", ErrNotEncodable, p.Name, r, lo, hi)
		}
		u = uint32(int64(r)) //nolint:gosec // range checked above; negative values wrap to two's complement
	default:
		return nil, fmt.Errorf("%w: %s: unknown format %q", ErrInvalidParameter, p.Name, p.Format)
	}

	if p.Words() == 1 {
		return []uint16{uint16(u & wordMask)}, nil
	}
	hi, lo := uint16(u>>wordBits), uint16(u&wordMask)
	if p.wordOrder() == WordOrderLittle {
		return []uint16{lo, hi}, nil
	}
	return []uint16{hi, lo}, nil
}

// bounds returns the representable integer range of the format.
func (f Format) bounds() (lo, hi float64) {
	switch f {
	case FormatU16:
		return 0, maxU16
	case FormatI16:
		return math.MinInt16, math.MaxInt16
	case FormatU32:
		return 0, maxU32
	case FormatI32:
		return math.MinInt32, math.MaxInt32
	default:
		return math.Inf(-1), math.Inf(1)
	}
}

// joinWords combines the first two words read for a parameter.
func joinWords(first, second uint16, order WordOrder) uint32 {
	if order == WordOrderLittle {
		first, second = second, first
	}
	return uint32(first)<<wordBits | uint32(second)
}

func (p *Parameter) wordOrder() WordOrder {
	if p.WordOrder == "" {
		return WordOrderBig
	}
	return p.WordOrder
}

func (p *Parameter) factor() float64 {
	if p.Scale.Factor == 0 {
		return 1
	}
	return p.Scale.Factor
}

func (p *Parameter) round(v float64) float64 {
	if p.Precision == nil {
		return v
	}
	return roundTo(v, *p.Precision)
}

func (p *Parameter) lookupRaw(raw int64) (TableEntry, bool) {
	for _, e := range p.Scale.Table {
		if e.Raw == raw {
			return e, true
		}
	}
	return TableEntry{}, false
}

func (p *Parameter) lookupValue(v float64) (TableEntry, bool) {
	for _, e := range p.Scale.Table {
		if e.Value == v {
			return e, true
		}
	}
	return TableEntry{}, false
}

// roundTo rounds v to the given number of decimals.
func roundTo(v float64, decimals int) float64 {
	scale := math.Pow(decimalTo, float64(decimals))
	return math.Round(v*scale) / scale
}
