// Package influxdb is the historical sink for fieldcore.
//
// It wraps the official influxdb-client-go v2 library and records three
// measurements:
//   - device_snapshot: one point per sampled snapshot, tagged by device_id
//   - control_action: every write issued by the control engine
//   - alert_event: alert activations and resolutions
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSnapshot("ahu1", true, map[string]float64{"supply_temp": 18.5}, ts)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; asynchronous write
// errors are delivered to the SetOnError callback.
package influxdb
