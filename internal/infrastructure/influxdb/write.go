package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by this package.
const (
	MeasurementSnapshot = "device_snapshot"
	MeasurementControl  = "control_action"
	MeasurementAlert    = "alert_event"
)

// WriteSnapshot records one sampled device snapshot.
//
// Only valid readings belong in values; the caller drops sentinel and
// missing parameters. The online flag is always written so an offline
// device still leaves a point.
//
// Parameters:
//   - deviceID: device the snapshot was taken from
//   - online: whether the device answered this cycle
//   - values: engineering values keyed by parameter name
//   - ts: sample timestamp
func (c *Client) WriteSnapshot(deviceID string, online bool, values map[string]float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(snapshotPoint(deviceID, online, values, ts))
}

// WriteControlAction records a write issued by the control engine.
func (c *Client) WriteControlAction(deviceID, param, ruleCode string, value float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(controlPoint(deviceID, param, ruleCode, value, ts))
}

// WriteAlertEvent records an alert transition. active is false for resolutions.
func (c *Client) WriteAlertEvent(deviceID, code, severity string, active bool, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(alertPoint(deviceID, code, severity, active, ts))
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

func snapshotPoint(deviceID string, online bool, values map[string]float64, ts time.Time) *write.Point {
	fields := make(map[string]interface{}, len(values)+1)
	for name, v := range values {
		fields[name] = v
	}
	fields["online"] = online

	return write.NewPoint(
		MeasurementSnapshot,
		map[string]string{"device_id": deviceID},
		fields,
		ts,
	)
}

func controlPoint(deviceID, param, ruleCode string, value float64, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementControl,
		map[string]string{
			"device_id": deviceID,
			"parameter": param,
			"rule_code": ruleCode,
		},
		map[string]interface{}{"value": value},
		ts,
	)
}

func alertPoint(deviceID, code, severity string, active bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAlert,
		map[string]string{
			"device_id":  deviceID,
			"alert_code": code,
			"severity":   severity,
		},
		map[string]interface{}{"active": active},
		ts,
	)
}
