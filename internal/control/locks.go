package control

import (
	"sort"
	"sync"
	"time"
)

// Lock protects the last protected write of one (device, parameter).
type Lock struct {
	DeviceID          string    `json:"device_id"`
	Parameter         string    `json:"parameter"`
	RuleCode          string    `json:"rule_code"`
	Priority          int       `json:"priority"`
	Value             float64   `json:"value"`
	EmergencyOverride bool      `json:"emergency_override,omitempty"`
	AcquiredAt        time.Time `json:"acquired_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

func (l *Lock) expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

type lockKey struct {
	device, param string
}

type lockSlot struct {
	mu   sync.Mutex
	lock *Lock
}

// LockTable holds one priority lock per (device, parameter). Each slot has
// its own mutex; the table lock only guards slot creation.
type LockTable struct {
	mu    sync.RWMutex
	slots map[lockKey]*lockSlot
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{slots: make(map[lockKey]*lockSlot)}
}

func (t *LockTable) slot(deviceID, param string) *lockSlot {
	key := lockKey{deviceID, param}
	t.mu.RLock()
	s := t.slots[key]
	t.mu.RUnlock()
	if s != nil {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s = t.slots[key]; s == nil {
		s = &lockSlot{}
		t.slots[key] = s
	}
	return s
}

// Get returns the live lock on (deviceID, param). An expired lock is cleared.
func (t *LockTable) Get(deviceID, param string, now time.Time) (Lock, bool) {
	s := t.slot(deviceID, param)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return Lock{}, false
	}
	if s.lock.expired(now) {
		s.lock = nil
		return Lock{}, false
	}
	return *s.lock, true
}

// Blocking returns the lock that prevents c from writing, if any. A lock
// blocks when it is live, held by another rule, and that rule's priority
// number is strictly lower. Emergency overrides are never blocked.
func (t *LockTable) Blocking(c Candidate, now time.Time) (Lock, bool) {
	if c.EmergencyOverride {
		return Lock{}, false
	}
	l, ok := t.Get(c.DeviceID, c.Parameter, now)
	if !ok || l.RuleCode == c.RuleCode || l.Priority >= c.Priority {
		return Lock{}, false
	}
	return l, true
}

// Arm installs or refreshes the lock for c.
func (t *LockTable) Arm(c Candidate, value float64, now time.Time) Lock {
	l := &Lock{
		DeviceID:          c.DeviceID,
		Parameter:         c.Parameter,
		RuleCode:          c.RuleCode,
		Priority:          c.Priority,
		Value:             value,
		EmergencyOverride: c.EmergencyOverride,
		AcquiredAt:        now,
		ExpiresAt:         now.Add(c.TTL),
	}
	s := t.slot(c.DeviceID, c.Parameter)
	s.mu.Lock()
	if s.lock != nil && s.lock.RuleCode == c.RuleCode {
		l.AcquiredAt = s.lock.AcquiredAt
	}
	s.lock = l
	s.mu.Unlock()
	return *l
}

// Release clears the lock on (deviceID, param) if ruleCode holds it.
func (t *LockTable) Release(deviceID, param, ruleCode string) bool {
	s := t.slot(deviceID, param)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil || s.lock.RuleCode != ruleCode {
		return false
	}
	s.lock = nil
	return true
}

// Snapshot returns every live lock ordered by device and parameter.
func (t *LockTable) Snapshot(now time.Time) []Lock {
	t.mu.RLock()
	slots := make([]*lockSlot, 0, len(t.slots))
	for _, s := range t.slots {
		slots = append(slots, s)
	}
	t.mu.RUnlock()

	out := make([]Lock, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		if s.lock != nil && !s.lock.expired(now) {
			out = append(out, *s.lock)
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].Parameter < out[j].Parameter
	})
	return out
}
