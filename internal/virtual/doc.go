// Package virtual composes aggregated devices out of physical ones.
//
// A virtual device has no bus address. After every sampler cycle the
// Composer folds the cycle's physical snapshots into one snapshot per
// virtual device, field by field (sum, avg, min, max), and derives power
// factor from the aggregated active and apparent power. The result is
// published on DEVICE_SNAPSHOT exactly like a physical snapshot, so alerts,
// the relay and storage need no special case.
//
// # Failure Handling
//
// Aggregation fails fast: a field that is the sentinel (or missing) on any
// source device is the sentinel on the virtual device. When every field is
// the sentinel the virtual snapshot is offline.
package virtual
