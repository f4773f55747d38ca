// Package sampler runs the cyclic read loop over every registered device.
//
// Each cycle visits devices in registry order, reads their full register
// set, records the snapshot in the registry and publishes it on
// DEVICE_SNAPSHOT. A cycle that takes longer than the period is reported as
// an overrun and the next cycle starts at once.
//
// A Composer set with SetComposer runs after the physical devices; its
// virtual snapshots are published on the same topic in the same cycle.
package sampler
