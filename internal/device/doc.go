// Package device provides device handles, snapshots and the device registry
// for the fieldbus core.
//
// A Handle binds one physical device (model + unit address on a bus segment)
// to its compiled register map and its transport. It reads and writes named
// parameters, running the model's write hooks around every write.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                         Registry                             │
//	│  fixed sampling order · per-device health · last snapshot    │
//	│                                                              │
//	│   ┌──────────┐   ┌──────────┐   ┌──────────┐                 │
//	│   │ Handle A │   │ Handle B │   │ Handle C │  ...            │
//	│   └────┬─────┘   └────┬─────┘   └────┬─────┘                 │
//	└────────│──────────────│──────────────│───────────────────────┘
//	         │              │              │
//	         ▼              ▼              ▼
//	   registermap.Map (per model, shared read-only)
//	         │
//	         ▼
//	   transport: Breaker ─► Retrying ─► Segment token ─► bus
//
// # Snapshots
//
// A Snapshot is immutable once built. Its Online flag is false iff every
// value equals registermap.Sentinel; an empty snapshot is offline.
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Each device's runtime state has
// its own lock; no lock spans two devices.
package device
