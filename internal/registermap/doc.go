// Package registermap translates named device parameters to raw fieldbus
// registers and back.
//
// A register map is per device model and immutable once compiled. Each
// parameter declares an address, a raw format, a word order for multi-word
// values, an access capability, and a scale rule:
//
//	raw words ──► decodeRaw (format, word order, bit) ──► scale ──► precision ──► value
//	                                                        │
//	                              linear │ table │ formula (computed field)
//
// Computed fields are derived from other parameters of the same device after
// a read pass. Their dependencies form a DAG checked by Compile; a cycle is a
// load-time error.
//
// Values that could not be obtained are represented by Sentinel.
//
// Hooks are declared here as data and executed by the device package around
// each write.
package registermap
