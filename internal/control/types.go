package control

import "time"

// Outcome is the result of one candidate in an arbitration cycle.
type Outcome string

// Decision outcomes.
const (
	OutcomeApplied             Outcome = "applied"
	OutcomeRedundant           Outcome = "redundant"
	OutcomeSuperseded          Outcome = "superseded"
	OutcomeLocked              Outcome = "locked"
	OutcomeConstraintViolation Outcome = "constraint_violation"
	OutcomeWriteFailed         Outcome = "write_failed"
	OutcomeDeviceOffline       Outcome = "device_offline"
	OutcomeInvalidInput        Outcome = "invalid_input"
)

// Origin tells where a candidate came from.
type Origin string

// Candidate origins.
const (
	OriginRule     Origin = "rule"
	OriginSchedule Origin = "schedule"
)

// Candidate is a satisfied rule competing to write one parameter.
type Candidate struct {
	RuleCode          string
	Origin            Origin
	DeviceID          string
	Parameter         string
	Priority          int
	EmergencyOverride bool
	Policy            Policy
	TTL               time.Duration
	Reason            string
}

// Decision records what happened to one candidate. Every candidate of a
// cycle gets exactly one.
type Decision struct {
	DeviceID  string     `json:"device_id"`
	Parameter string     `json:"parameter"`
	RuleCode  string     `json:"rule_code"`
	Priority  int        `json:"priority"`
	Policy    PolicyKind `json:"policy"`
	Value     float64    `json:"value"`
	Outcome   Outcome    `json:"outcome"`
	Error     string     `json:"error,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Action is the payload of eventbus.TopicControlAction, published for every
// applied write.
type Action struct {
	DeviceID          string     `json:"device_id"`
	Parameter         string     `json:"parameter"`
	RuleCode          string     `json:"rule_code"`
	Priority          int        `json:"priority"`
	Value             float64    `json:"value"`
	Policy            PolicyKind `json:"policy"`
	EmergencyOverride bool       `json:"emergency_override,omitempty"`
	Reason            string     `json:"reason,omitempty"`
	Timestamp         time.Time  `json:"timestamp"`
}
