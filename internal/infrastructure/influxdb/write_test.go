package influxdb

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

func tagsOf(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fieldsOf(p *write.Point) map[string]interface{} {
	out := map[string]interface{}{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestSnapshotPoint(t *testing.T) {
	ts := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		online bool
		values map[string]float64
		want   map[string]interface{}
	}{
		{
			name:   "online with values",
			online: true,
			values: map[string]float64{"supply_temp": 18.5, "fan_speed": 40},
			want:   map[string]interface{}{"supply_temp": 18.5, "fan_speed": 40.0, "online": true},
		},
		{
			name:   "offline keeps online field",
			online: false,
			values: nil,
			want:   map[string]interface{}{"online": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := snapshotPoint("ahu1", tt.online, tt.values, ts)

			if p.Name() != MeasurementSnapshot {
				t.Errorf("Name() = %q, want %q", p.Name(), MeasurementSnapshot)
			}
			if got := tagsOf(p); len(got) != 1 || got["device_id"] != "ahu1" {
				t.Errorf("tags = %v", got)
			}
			if !p.Time().Equal(ts) {
				t.Errorf("Time() = %v, want %v", p.Time(), ts)
			}
			got := fieldsOf(p)
			if len(got) != len(tt.want) {
				t.Fatalf("fields = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("field %s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestControlPoint(t *testing.T) {
	p := controlPoint("ahu1", "fan_speed", "BOOST", 80, time.Unix(0, 0))

	if p.Name() != MeasurementControl {
		t.Errorf("Name() = %q", p.Name())
	}
	tags := tagsOf(p)
	if tags["device_id"] != "ahu1" || tags["parameter"] != "fan_speed" || tags["rule_code"] != "BOOST" {
		t.Errorf("tags = %v", tags)
	}
	if got := fieldsOf(p)["value"]; got != 80.0 {
		t.Errorf("value = %v, want 80", got)
	}
}

func TestAlertPoint(t *testing.T) {
	p := alertPoint("ahu1", "HIGH_TEMP", "critical", false, time.Unix(0, 0))

	if p.Name() != MeasurementAlert {
		t.Errorf("Name() = %q", p.Name())
	}
	tags := tagsOf(p)
	if tags["alert_code"] != "HIGH_TEMP" || tags["severity"] != "critical" {
		t.Errorf("tags = %v", tags)
	}
	if got := fieldsOf(p)["active"]; got != false {
		t.Errorf("active = %v, want false", got)
	}
}
