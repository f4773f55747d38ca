package alert

import "time"

// State is one position of the per-(device, code) alert state machine.
type State string

// Alert states.
const (
	StateNormal    State = "NORMAL"
	StateTriggered State = "TRIGGERED"
	StateActive    State = "ACTIVE"
	StateResolved  State = "RESOLVED"
)

// Record is the persisted state of one (device, code) pair.
type Record struct {
	DeviceID      string     `json:"device_id"`
	Code          string     `json:"code"`
	State         State      `json:"state"`
	Since         time.Time  `json:"since"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	LastResolved  *time.Time `json:"last_resolved,omitempty"`
	LastValue     *float64   `json:"last_value,omitempty"`

	// Notified is set once the current run's trigger notification went out.
	// It gates the matching RESOLVED notification.
	Notified bool `json:"notified"`
}

// newRecord returns the initial NORMAL record for a rule.
func newRecord(deviceID, code string, at time.Time) Record {
	return Record{DeviceID: deviceID, Code: code, State: StateNormal, Since: at}
}

// transition describes one state change produced by step.
type transition struct {
	from, to State
	notify   bool
}

func (t transition) changed() bool { return t.from != t.to }

// step advances rec for one evaluation and reports the transition.
//
//	NORMAL    --true-->                      TRIGGERED
//	TRIGGERED --true, confirm elapsed-->     ACTIVE
//	TRIGGERED --false-->                     RESOLVED
//	ACTIVE    --false-->                     RESOLVED
//	RESOLVED  --false (next evaluation)-->   NORMAL
//	RESOLVED  --true-->                      TRIGGERED
//
// With no confirmation period a still-true condition promotes TRIGGERED to
// ACTIVE on the next evaluation. A notification goes out once per run at the
// configured point, and once on RESOLVED when that run was notified.
func step(rec *Record, satisfied bool, at time.Time, confirm time.Duration, notifyOn NotifyOn) transition {
	t := transition{from: rec.State, to: rec.State}

	enter := func(s State) {
		rec.State = s
		rec.Since = at
		t.to = s
	}

	switch rec.State {
	case StateNormal, StateResolved:
		if !satisfied {
			if rec.State == StateResolved {
				enter(StateNormal)
				rec.Notified = false
			}
			return t
		}
		enter(StateTriggered)
		ts := at
		rec.LastTriggered = &ts
		rec.Notified = notifyOn == NotifyOnTriggered
		t.notify = rec.Notified

	case StateTriggered:
		if !satisfied {
			resolve(rec, at, &t)
			return t
		}
		if at.Sub(rec.Since) >= confirm {
			enter(StateActive)
			if notifyOn == NotifyOnActive && !rec.Notified {
				rec.Notified = true
				t.notify = true
			}
		}

	case StateActive:
		if !satisfied {
			resolve(rec, at, &t)
		}
	}
	return t
}

func resolve(rec *Record, at time.Time, t *transition) {
	rec.State = StateResolved
	rec.Since = at
	ts := at
	rec.LastResolved = &ts
	t.to = StateResolved
	t.notify = rec.Notified
}
