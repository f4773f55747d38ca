package transport

import (
	"context"
	"sync"
	"time"
)

// Simulator is an in-memory fieldbus: one register bank per unit address.
// Unwritten registers read as zero. Faults are injected per unit.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Simulator struct {
	mu    sync.Mutex
	units map[uint8]*simUnit
}

type simUnit struct {
	regs map[uint16]uint16

	transientFails int // next N requests fail transiently
	fatal          bool
	silent         bool // never answers; requests time out
	delay          time.Duration

	reads  int
	writes int
}

// NewSimulator creates an empty simulated bus.
func NewSimulator() *Simulator {
	return &Simulator{units: make(map[uint8]*simUnit)}
}

// AddUnit attaches a device at unit. Requests to absent units time out.
func (s *Simulator) AddUnit(unit uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[unit]; !ok {
		s.units[unit] = &simUnit{regs: make(map[uint16]uint16)}
	}
}

// SetRegisters stores words starting at address, attaching the unit if needed.
func (s *Simulator) SetRegisters(unit uint8, address uint16, words ...uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.unitLocked(unit)
	for i, w := range words {
		u.regs[address+uint16(i)] = w //nolint:gosec // register space wraps at 16 bits
	}
}

// Registers returns count words starting at address.
func (s *Simulator) Registers(unit uint8, address, count uint16) []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.unitLocked(unit)
	out := make([]uint16, count)
	for i := range out {
		out[i] = u.regs[address+uint16(i)] //nolint:gosec // register space wraps at 16 bits
	}
	return out
}

// FailNext makes the next n requests to unit fail with a transient timeout.
func (s *Simulator) FailNext(unit uint8, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unitLocked(unit).transientFails = n
}

// SetFatal makes every request to unit fail fatally.
func (s *Simulator) SetFatal(unit uint8, fatal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unitLocked(unit).fatal = fatal
}

// SetSilent makes unit stop answering; requests block until their context ends.
func (s *Simulator) SetSilent(unit uint8, silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unitLocked(unit).silent = silent
}

// SetDelay adds a response latency to every request to unit.
func (s *Simulator) SetDelay(unit uint8, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unitLocked(unit).delay = d
}

// Counts returns how many reads and writes unit has answered.
func (s *Simulator) Counts(unit uint8) (reads, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[unit]
	if !ok {
		return 0, 0
	}
	return u.reads, u.writes
}

// Read implements Transport.
func (s *Simulator) Read(ctx context.Context, req Request) ([]uint16, error) {
	if err := s.exchange(ctx, req.Unit, req.Address, false); err != nil {
		return nil, err
	}
	return s.Registers(req.Unit, req.Address, req.Count), nil
}

// Write implements Transport.
func (s *Simulator) Write(ctx context.Context, unit uint8, address uint16, words []uint16) error {
	if err := s.exchange(ctx, unit, address, true); err != nil {
		return err
	}
	s.SetRegisters(unit, address, words...)
	return nil
}

// exchange applies faults and latency, then counts the request.
func (s *Simulator) exchange(ctx context.Context, unit uint8, address uint16, write bool) error {
	s.mu.Lock()
	u, ok := s.units[unit]
	var (
		delay  time.Duration
		silent = !ok
		fault  error
	)
	if ok {
		delay, silent = u.delay, u.silent
		switch {
		case u.fatal:
			fault = &Error{Kind: Fatal, Unit: unit, Address: address, Err: ErrNoDevice}
		case u.transientFails > 0:
			u.transientFails--
			fault = &Error{Kind: Transient, Unit: unit, Address: address, Err: ErrTimeout}
		}
	}
	s.mu.Unlock()

	if silent {
		<-ctx.Done()
		return &Error{Kind: Transient, Unit: unit, Address: address, Err: ErrTimeout}
	}
	if fault != nil {
		return fault
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return &Error{Kind: Transient, Unit: unit, Address: address, Err: ErrTimeout}
		}
	}

	s.mu.Lock()
	if write {
		u.writes++
	} else {
		u.reads++
	}
	s.mu.Unlock()
	return nil
}

func (s *Simulator) unitLocked(unit uint8) *simUnit {
	u, ok := s.units[unit]
	if !ok {
		u = &simUnit{regs: make(map[uint16]uint16)}
		s.units[unit] = u
	}
	return u
}
