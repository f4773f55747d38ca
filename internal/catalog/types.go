package catalog

import (
	"github.com/nerrad567/fieldbus-core/internal/alert"
	"github.com/nerrad567/fieldbus-core/internal/constraint"
	"github.com/nerrad567/fieldbus-core/internal/control"
	"github.com/nerrad567/fieldbus-core/internal/registermap"
	"github.com/nerrad567/fieldbus-core/internal/schedule"
	"github.com/nerrad567/fieldbus-core/internal/virtual"
)

// Site is the YAML form of the site model.
type Site struct {
	// Timezone is used by schedules that name none. Empty falls back to the
	// process site timezone.
	Timezone string `yaml:"timezone,omitempty"`

	Models        []Model                      `yaml:"models"`
	Devices       []DeviceSpec                 `yaml:"devices"`
	Virtual       []VirtualSpec                `yaml:"virtual_devices,omitempty"`
	Schedules     []schedule.Schedule          `yaml:"schedules,omitempty"`
	ControlRules  []control.Rule               `yaml:"control_rules,omitempty"`
	ScheduleRules []control.ScheduleRule       `yaml:"schedule_rules,omitempty"`
	Constraints   map[string]constraint.Bounds `yaml:"constraints,omitempty"`
}

// Model is a device model: its register map, default alert rules and
// write bounds.
type Model struct {
	Name        string                       `yaml:"name"`
	Parameters  []registermap.Parameter      `yaml:"parameters"`
	Alerts      []alert.Rule                 `yaml:"alerts,omitempty"`
	Constraints map[string]constraint.Bounds `yaml:"constraints,omitempty"`
}

// DeviceSpec is one device instance.
type DeviceSpec struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name,omitempty"`
	Model   string `yaml:"model"`
	Segment string `yaml:"segment"`
	Unit    uint8  `yaml:"unit"`

	// Schedule names the device's calendar for schedule rules that do not
	// pick one. Empty means a schedule with the device id, then "default".
	Schedule string `yaml:"schedule,omitempty"`

	// Alerts override model rules by code and may add new ones.
	Alerts      []alert.Rule                 `yaml:"alerts,omitempty"`
	Constraints map[string]constraint.Bounds `yaml:"constraints,omitempty"`

	// Initial seeds parameter values in simulator mode.
	Initial map[string]float64 `yaml:"initial,omitempty"`
}

// VirtualSpec is a virtual device with its own alert rules. Alert
// conditions read the virtual device's field names.
type VirtualSpec struct {
	virtual.Spec `yaml:",inline"`

	Alerts []alert.Rule `yaml:"alerts,omitempty"`
}
