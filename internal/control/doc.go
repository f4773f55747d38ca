// Package control turns satisfied control rules into parameter writes.
//
// Each device snapshot drives one cycle: condition rules and schedule rules
// are evaluated, the satisfied ones become candidates, and candidates for
// the same parameter are arbitrated. Lower priority numbers win. A
// successful write arms a Priority Lock on (device, parameter) that blocks
// lower-precedence rules until it expires or its holder's condition goes
// false. Emergency-override rules ignore locks and re-arm them at their own
// priority.
//
// Every value passes the Constraint Gate before it reaches the device.
// Every candidate produces exactly one Decision; applied writes are also
// published as CONTROL_ACTION events.
package control
