package registermap

// Sentinel is the value a parameter takes when it could not be read.
// A snapshot whose every value equals Sentinel is offline.
const Sentinel = -1.0

// Format is the raw register encoding of a parameter.
type Format string

// Supported raw formats.
const (
	FormatU16 Format = "u16"
	FormatI16 Format = "i16"
	FormatU32 Format = "u32"
	FormatI32 Format = "i32"
	FormatF32 Format = "f32"
)

// Words returns how many 16-bit registers the format occupies, or 0 if unknown.
func (f Format) Words() int {
	switch f {
	case FormatU16, FormatI16:
		return 1
	case FormatU32, FormatI32, FormatF32:
		return 2
	default:
		return 0
	}
}

// WordOrder is the order of 16-bit words in a multi-word value.
type WordOrder string

// Word orders.
const (
	WordOrderBig    WordOrder = "big"    // high word first
	WordOrderLittle WordOrder = "little" // low word first
)

// Access is the read/write capability of a parameter.
type Access string

// Access capabilities.
const (
	AccessRead      Access = "r"
	AccessWrite     Access = "w"
	AccessReadWrite Access = "rw"
)

// Readable reports whether the capability allows reads.
func (a Access) Readable() bool { return a == AccessRead || a == AccessReadWrite }

// Writable reports whether the capability allows writes.
func (a Access) Writable() bool { return a == AccessWrite || a == AccessReadWrite }

// ScaleKind selects how a raw value becomes an engineering value.
type ScaleKind string

// Scale kinds.
const (
	ScaleNone    ScaleKind = ""
	ScaleLinear  ScaleKind = "linear"
	ScaleTable   ScaleKind = "table"
	ScaleFormula ScaleKind = "formula"
)

// Scale is a tagged variant: exactly the fields of Kind are meaningful.
type Scale struct {
	Kind ScaleKind `yaml:"kind"`

	// Linear: value = raw*Factor + Offset. A zero Factor means 1.
	Factor float64 `yaml:"factor,omitempty"`
	Offset float64 `yaml:"offset,omitempty"`

	// Table: raw integer -> value. Raw values missing from the table read as Sentinel.
	Table []TableEntry `yaml:"table,omitempty"`

	// Formula: the parameter is computed from other parameters of the same device.
	Formula *Formula `yaml:"formula,omitempty"`
}

// TableEntry maps one raw value to an enumerated value and optional label.
type TableEntry struct {
	Raw   int64   `yaml:"raw"`
	Value float64 `yaml:"value"`
	Label string  `yaml:"label,omitempty"`
}

// FormulaKind selects the computation of a computed field.
type FormulaKind string

// Formula kinds.
const (
	// FormulaCombine32 joins two raw words into a 32-bit integer.
	FormulaCombine32 FormulaKind = "combine32"
	// FormulaCombine64 joins four raw words (high first) into a 64-bit integer.
	FormulaCombine64 FormulaKind = "combine64"
	// FormulaDecimalPoint divides inputs[0] by 10^inputs[1].
	FormulaDecimalPoint FormulaKind = "decimal_point"
	FormulaSum          FormulaKind = "sum"
	FormulaDifference   FormulaKind = "difference"
	FormulaProduct      FormulaKind = "product"
	FormulaRatio        FormulaKind = "ratio"
	// FormulaLinear computes (inputs[0] + N1) * N2 + N3.
	FormulaLinear FormulaKind = "linear"
)

// Formula describes a computed field over other parameters.
type Formula struct {
	Kind   FormulaKind `yaml:"kind"`
	Inputs []string    `yaml:"inputs"`

	// Signed interprets combined words as two's complement (combine32/combine64).
	Signed bool `yaml:"signed,omitempty"`

	// WordOrder for combine32: big means Inputs are [high, low].
	WordOrder WordOrder `yaml:"word_order,omitempty"`

	N1 float64 `yaml:"n1,omitempty"`
	N2 float64 `yaml:"n2,omitempty"`
	N3 float64 `yaml:"n3,omitempty"`
}

// HookKind selects a write hook transformation.
type HookKind string

// Hook kinds.
const (
	// HookMultiply scales the value by Factor (unit conversion).
	HookMultiply HookKind = "multiply"
	// HookRound rounds the value to Decimals places.
	HookRound HookKind = "round"
	// HookClamp limits the value to [Min, Max].
	HookClamp HookKind = "clamp"
	// HookVerify reads the parameter back after the write and fails when it
	// differs from the written value by more than Tolerance.
	HookVerify HookKind = "verify"
)

// Hook is one ordered, side-effecting step around a write. Multiply, round
// and clamp run before the write and transform the value; verify runs after.
type Hook struct {
	Kind      HookKind `yaml:"kind"`
	Factor    float64  `yaml:"factor,omitempty"`
	Decimals  int      `yaml:"decimals,omitempty"`
	Min       *float64 `yaml:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty"`
	Tolerance float64  `yaml:"tolerance,omitempty"`
}

// Parameter is one named entry of a register map.
type Parameter struct {
	Name      string    `yaml:"name"`
	Address   uint16    `yaml:"address"`
	Format    Format    `yaml:"format"`
	WordOrder WordOrder `yaml:"word_order,omitempty"`
	Access    Access    `yaml:"access"`
	Unit      string    `yaml:"unit,omitempty"`

	// Bit extracts a single bit of a 16-bit register (0 = least significant).
	Bit *uint8 `yaml:"bit,omitempty"`

	// Precision rounds the scaled value to this many decimals.
	Precision *int `yaml:"precision,omitempty"`

	Scale Scale `yaml:"scale,omitempty"`

	// Min and Max are the model-level write bounds.
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`

	PreWrite  []Hook `yaml:"pre_write,omitempty"`
	PostWrite []Hook `yaml:"post_write,omitempty"`
}

// Computed reports whether the parameter is derived from other parameters.
func (p *Parameter) Computed() bool {
	return p.Scale.Kind == ScaleFormula
}

// Words returns the number of registers read or written for the parameter.
func (p *Parameter) Words() int {
	return p.Format.Words()
}
