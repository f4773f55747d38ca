// Package schedule evaluates weekly calendars of weekday and time-of-day
// windows.
//
// Schedules feed two consumers: schedule leaves in condition trees, and
// schedule-driven control rules that compete in the same priority
// arbitration as condition-driven rules.
package schedule
