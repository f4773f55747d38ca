package virtual

// Method is how a field is folded across source devices.
type Method string

// Aggregation methods.
const (
	MethodSum Method = "sum"
	MethodAvg Method = "avg"
	MethodMin Method = "min"
	MethodMax Method = "max"
	// MethodPowerFactor divides the aggregated active power by the
	// aggregated apparent power. It reads fields of the virtual device,
	// not of the sources.
	MethodPowerFactor Method = "power_factor"
)

// Default field names read by MethodPowerFactor.
const (
	DefaultActive   = "kw"
	DefaultApparent = "kva"
)

// Spec is the YAML form of a virtual device.
type Spec struct {
	ID       string  `yaml:"id"`
	Name     string  `yaml:"name,omitempty"`
	Disabled bool    `yaml:"disabled,omitempty"`
	Source   Source  `yaml:"source"`
	Fields   []Field `yaml:"fields"`
}

// Source selects the physical devices a virtual device draws from.
type Source struct {
	Model string `yaml:"model"`
	// Devices narrows the source to these ids. Empty means every device of
	// Model, in catalog order.
	Devices []string `yaml:"devices,omitempty"`
}

// Field is one aggregated parameter. For sum, avg, min and max the name is
// read from every source device.
type Field struct {
	Name   string `yaml:"name"`
	Method Method `yaml:"method"`

	// Active and Apparent name the aggregated fields power factor is
	// computed from. They default to kw and kva.
	Active   string `yaml:"active,omitempty"`
	Apparent string `yaml:"apparent,omitempty"`
}
