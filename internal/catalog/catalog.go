package catalog

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/fieldbus-core/internal/alert"
	"github.com/nerrad567/fieldbus-core/internal/constraint"
	"github.com/nerrad567/fieldbus-core/internal/control"
	"github.com/nerrad567/fieldbus-core/internal/device"
	"github.com/nerrad567/fieldbus-core/internal/registermap"
	"github.com/nerrad567/fieldbus-core/internal/schedule"
	"github.com/nerrad567/fieldbus-core/internal/virtual"
)

// Catalog is the validated, immutable site model. It is built once at
// startup and passed by reference to every component.
//
// Thread Safety:
//   - Safe for concurrent use; nothing mutates a Catalog after Load.
type Catalog struct {
	devices   []device.Device
	byID      map[string]int
	maps      map[string]*registermap.Map // by model
	alerts    map[string][]*alert.CompiledRule
	control   map[string][]*control.CompiledRule
	scheduled map[string][]*control.CompiledScheduleRule
	initial   map[string]map[string]float64
	virtual   []*virtual.Compiled
	schedules *schedule.Set
	gate      *constraint.Gate
}

// Load reads and validates a site model file.
//
// Parameters:
//   - path: Path to the site model YAML
//   - fallbackTZ: Timezone for schedules when neither they nor the site name one
//
// Returns:
//   - *Catalog: The validated site model
//   - error: Wrapping ErrConfiguration for any model problem
func Load(path, fallbackTZ string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading site model: %w", err)
	}
	return Parse(data, fallbackTZ)
}

// Parse decodes and validates a site model document.
func Parse(data []byte, fallbackTZ string) (*Catalog, error) {
	var site Site
	if err := yaml.Unmarshal(data, &site); err != nil {
		return nil, fmt.Errorf("%w: parsing site model: %w", ErrConfiguration, err)
	}
	return Build(site, fallbackTZ)
}

// builder accumulates problems so one load reports all of them.
type builder struct {
	site Site
	cat  *Catalog
	errs []error
}

func (b *builder) fail(format string, args ...any) {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
}

// Build validates site and compiles it into a Catalog.
func Build(site Site, fallbackTZ string) (*Catalog, error) {
	if site.Timezone != "" {
		fallbackTZ = site.Timezone
	}
	b := &builder{
		site: site,
		cat: &Catalog{
			byID:      make(map[string]int),
			maps:      make(map[string]*registermap.Map),
			alerts:    make(map[string][]*alert.CompiledRule),
			control:   make(map[string][]*control.CompiledRule),
			scheduled: make(map[string][]*control.CompiledScheduleRule),
			initial:   make(map[string]map[string]float64),
		},
	}

	b.buildSchedules(fallbackTZ)
	b.buildModels()
	b.buildDevices()
	b.buildVirtual()
	b.buildGate()
	b.buildControl()

	if len(b.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(b.errs...))
	}
	return b.cat, nil
}

func (b *builder) buildSchedules(tz string) {
	var compiled []*schedule.Compiled
	for i, s := range b.site.Schedules {
		c, err := schedule.Compile(s, tz)
		if err != nil {
			b.fail("schedules[%d]: %w", i, err)
			continue
		}
		compiled = append(compiled, c)
	}
	set, err := schedule.NewSet(compiled...)
	if err != nil {
		b.fail("schedules: %w", err)
		set, _ = schedule.NewSet()
	}
	b.cat.schedules = set
}

func (b *builder) buildModels() {
	for i, m := range b.site.Models {
		if m.Name == "" {
			b.fail("models[%d].name is required", i)
			continue
		}
		if _, dup := b.cat.maps[m.Name]; dup {
			b.fail("models[%d]: duplicate model %q", i, m.Name)
			continue
		}
		rm, err := registermap.Compile(m.Name, m.Parameters)
		if err != nil {
			b.fail("models[%d]: %w", i, err)
			continue
		}
		b.cat.maps[m.Name] = rm
	}
}

func (b *builder) model(name string) (Model, bool) {
	for _, m := range b.site.Models {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}

type busAddr struct {
	segment string
	unit    uint8
}

func (b *builder) buildDevices() {
	addrs := make(map[busAddr]string)
	for i, spec := range b.site.Devices {
		dev := device.Device{ID: spec.ID, Name: spec.Name, Model: spec.Model, Segment: spec.Segment, Unit: spec.Unit}
		if err := dev.Validate(); err != nil {
			b.fail("devices[%d]: %w", i, err)
			continue
		}
		if _, dup := b.cat.byID[dev.ID]; dup {
			b.fail("devices[%d]: duplicate device id %q", i, dev.ID)
			continue
		}
		addr := busAddr{dev.Segment, dev.Unit}
		if other, taken := addrs[addr]; taken {
			b.fail("devices[%d]: %s unit %d already used by %s", i, dev.Segment, dev.Unit, other)
		}
		addrs[addr] = dev.ID

		rm, ok := b.cat.maps[dev.Model]
		if !ok {
			b.fail("devices[%d]: %s: unknown model %q", i, dev.ID, dev.Model)
			continue
		}
		if spec.Schedule != "" {
			if _, ok := b.cat.schedules.Get(spec.Schedule); !ok {
				b.fail("devices[%d]: %s: unknown schedule %q", i, dev.ID, spec.Schedule)
			}
		}
		for name := range spec.Initial {
			if _, err := rm.Lookup(name); err != nil {
				b.fail("devices[%d]: %s: initial value: %w", i, dev.ID, err)
			}
		}

		b.cat.byID[dev.ID] = len(b.cat.devices)
		b.cat.devices = append(b.cat.devices, dev)
		if len(spec.Initial) > 0 {
			b.cat.initial[dev.ID] = spec.Initial
		}
		b.buildAlerts(dev, rm, spec)
	}
}

func (b *builder) buildAlerts(dev device.Device, rm *registermap.Map, spec DeviceSpec) {
	m, _ := b.model(dev.Model)
	rules, err := alert.Merge(m.Alerts, spec.Alerts)
	if err != nil {
		b.fail("device %s alerts: %w", dev.ID, err)
		return
	}
	for _, r := range rules {
		c, err := alert.Compile(r, b.cat.schedules)
		if err != nil {
			b.fail("device %s: %w", dev.ID, err)
			continue
		}
		if err := checkSources(rm, c.Tree().Sources()); err != nil {
			b.fail("device %s alert %s: %w", dev.ID, r.Code, err)
			continue
		}
		b.cat.alerts[dev.ID] = append(b.cat.alerts[dev.ID], c)
	}
}

// buildVirtual compiles the enabled virtual devices. Their ids share the
// physical device namespace and their fields must be readable on the source
// model.
func (b *builder) buildVirtual() {
	seen := make(map[string]struct{})
	for i, spec := range b.site.Virtual {
		if spec.Disabled {
			continue
		}
		if _, dup := b.cat.byID[spec.ID]; dup {
			b.fail("virtual_devices[%d]: id %q is already a physical device", i, spec.ID)
			continue
		}
		if _, dup := seen[spec.ID]; dup {
			b.fail("virtual_devices[%d]: duplicate virtual device id %q", i, spec.ID)
			continue
		}
		seen[spec.ID] = struct{}{}

		vd, err := virtual.Compile(spec.Spec, b.cat.devices)
		if err != nil {
			b.fail("virtual_devices[%d]: %w", i, err)
			continue
		}
		if rm, ok := b.cat.maps[vd.Model]; ok {
			if err := checkSources(rm, vd.SourceParameters()); err != nil {
				b.fail("virtual_devices[%d]: %s: %w", i, vd.ID, err)
				continue
			}
		}
		b.cat.virtual = append(b.cat.virtual, vd)
		b.buildVirtualAlerts(vd, spec.Alerts)
	}
}

func (b *builder) buildVirtualAlerts(vd *virtual.Compiled, rules []alert.Rule) {
	rules, err := alert.Merge(nil, rules)
	if err != nil {
		b.fail("virtual device %s alerts: %w", vd.ID, err)
		return
	}
	names := vd.Names()
	for _, r := range rules {
		c, err := alert.Compile(r, b.cat.schedules)
		if err != nil {
			b.fail("virtual device %s: %w", vd.ID, err)
			continue
		}
		if i := slices.IndexFunc(c.Tree().Sources(), func(src string) bool { return !slices.Contains(names, src) }); i >= 0 {
			b.fail("virtual device %s alert %s: %w: %q", vd.ID, r.Code, registermap.ErrParameterUnknown, c.Tree().Sources()[i])
			continue
		}
		b.cat.alerts[vd.ID] = append(b.cat.alerts[vd.ID], c)
	}
}

// buildGate assembles the three constraint levels. Register map min/max
// seed the model level; a model constraints entry replaces them per
// parameter.
func (b *builder) buildGate() {
	t := constraint.Tables{
		Instance:     make(map[string]map[string]constraint.Bounds),
		Model:        make(map[string]map[string]constraint.Bounds),
		Global:       b.site.Constraints,
		DeviceModels: make(map[string]string, len(b.cat.devices)),
	}
	for _, m := range b.site.Models {
		rm, ok := b.cat.maps[m.Name]
		if !ok {
			continue
		}
		bounds := make(map[string]constraint.Bounds)
		for _, name := range rm.Names() {
			p, _ := rm.Lookup(name)
			if p.Min != nil || p.Max != nil {
				bounds[name] = constraint.Bounds{Min: p.Min, Max: p.Max}
			}
		}
		for name, bd := range m.Constraints {
			if _, err := rm.Lookup(name); err != nil {
				b.fail("model %s constraints: %w", m.Name, err)
				continue
			}
			bounds[name] = bd
		}
		t.Model[m.Name] = bounds
	}
	for _, spec := range b.site.Devices {
		i, ok := b.cat.byID[spec.ID]
		if !ok {
			continue
		}
		dev := b.cat.devices[i]
		t.DeviceModels[dev.ID] = dev.Model
		if len(spec.Constraints) == 0 {
			continue
		}
		rm := b.cat.maps[dev.Model]
		for name := range spec.Constraints {
			if _, err := rm.Lookup(name); err != nil {
				b.fail("device %s constraints: %w", dev.ID, err)
			}
		}
		t.Instance[dev.ID] = spec.Constraints
	}

	gate, err := constraint.NewGate(t)
	if err != nil {
		b.fail("constraints: %w", err)
		gate, _ = constraint.NewGate(constraint.Tables{})
	}
	b.cat.gate = gate
}

func (b *builder) buildControl() {
	for i, r := range b.site.ControlRules {
		rm, ok := b.deviceMap(r.DeviceID)
		if !ok {
			b.fail("control_rules[%d]: %s: unknown device %q", i, r.Code, r.DeviceID)
			continue
		}
		c, err := control.Compile(r, b.cat.schedules)
		if err != nil {
			b.fail("control_rules[%d]: %w", i, err)
			continue
		}
		if _, err := rm.CheckWrite(r.Parameter); err != nil {
			b.fail("control_rules[%d]: %s: %w", i, r.Code, err)
			continue
		}
		sources := append(c.Tree().Sources(), r.Policy.Sources()...)
		if r.Policy.Kind == control.PolicyIncrementalLinear {
			sources = append(sources, r.Parameter)
		}
		if err := checkSources(rm, sources); err != nil {
			b.fail("control_rules[%d]: %s: %w", i, r.Code, err)
			continue
		}
		b.cat.control[r.DeviceID] = append(b.cat.control[r.DeviceID], c)
	}

	for i, r := range b.site.ScheduleRules {
		rm, ok := b.deviceMap(r.DeviceID)
		if !ok {
			b.fail("schedule_rules[%d]: %s: unknown device %q", i, r.Code, r.DeviceID)
			continue
		}
		if r.Schedule == "" {
			r.Schedule = b.site.Devices[b.specIndex(r.DeviceID)].Schedule
		}
		c, err := control.CompileSchedule(r, b.cat.schedules)
		if err != nil {
			b.fail("schedule_rules[%d]: %w", i, err)
			continue
		}
		if _, err := rm.CheckWrite(r.Parameter); err != nil {
			b.fail("schedule_rules[%d]: %s: %w", i, r.Code, err)
			continue
		}
		b.cat.scheduled[r.DeviceID] = append(b.cat.scheduled[r.DeviceID], c)
	}

	for _, dev := range b.cat.devices {
		seen := make(map[string]struct{})
		check := func(code string) {
			if _, dup := seen[code]; dup {
				b.fail("device %s: %w: %q", dev.ID, control.ErrDuplicateCode, code)
			}
			seen[code] = struct{}{}
		}
		for _, r := range b.cat.control[dev.ID] {
			check(r.Code)
		}
		for _, r := range b.cat.scheduled[dev.ID] {
			check(r.Code)
		}
	}
}

func (b *builder) deviceMap(id string) (*registermap.Map, bool) {
	i, ok := b.cat.byID[id]
	if !ok {
		return nil, false
	}
	rm, ok := b.cat.maps[b.cat.devices[i].Model]
	return rm, ok
}

func (b *builder) specIndex(id string) int {
	for i, spec := range b.site.Devices {
		if spec.ID == id {
			return i
		}
	}
	return -1
}

// checkSources reports the first source the map cannot read.
func checkSources(rm *registermap.Map, sources []string) error {
	for _, s := range sources {
		if _, err := rm.CheckRead(s); err != nil {
			return err
		}
	}
	return nil
}

// Devices returns the devices in declaration order, which is also the
// sampling order.
func (c *Catalog) Devices() []device.Device {
	return slices.Clone(c.devices)
}

// VirtualDevices returns the enabled virtual devices in declaration order.
func (c *Catalog) VirtualDevices() []*virtual.Compiled {
	return slices.Clone(c.virtual)
}

// Device returns one device by id.
func (c *Catalog) Device(id string) (device.Device, bool) {
	i, ok := c.byID[id]
	if !ok {
		return device.Device{}, false
	}
	return c.devices[i], true
}

// Map returns the register map of a model.
func (c *Catalog) Map(model string) (*registermap.Map, bool) {
	rm, ok := c.maps[model]
	return rm, ok
}

// AlertRules returns the merged, compiled alert rules of a device.
func (c *Catalog) AlertRules(deviceID string) []*alert.CompiledRule {
	return c.alerts[deviceID]
}

// ControlRules returns the condition-driven control rules of a device.
func (c *Catalog) ControlRules(deviceID string) []*control.CompiledRule {
	return c.control[deviceID]
}

// ScheduleRules returns the schedule rules of a device.
func (c *Catalog) ScheduleRules(deviceID string) []*control.CompiledScheduleRule {
	return c.scheduled[deviceID]
}

// Initial returns the simulator seed values of a device.
func (c *Catalog) Initial(deviceID string) map[string]float64 {
	return c.initial[deviceID]
}

// Schedules returns the compiled schedule set.
func (c *Catalog) Schedules() *schedule.Set {
	return c.schedules
}

// Gate returns the Constraint Gate built from all three levels.
func (c *Catalog) Gate() *constraint.Gate {
	return c.gate
}
