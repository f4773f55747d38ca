package transport

import (
	"context"
	"fmt"
)

// Segment serialises I/O on one physical bus segment: at most one request is
// in flight at a time. The token is not re-entrant; a holder that acquires
// again deadlocks until its context ends.
//
// Segment also implements Transport by wrapping every call in
// Acquire/Release, so devices sharing a segment can share one value.
type Segment struct {
	name  string
	token chan struct{}
	next  Transport
}

// NewSegment creates a segment token in front of next.
func NewSegment(name string, next Transport) *Segment {
	s := &Segment{
		name:  name,
		token: make(chan struct{}, 1),
		next:  next,
	}
	return s
}

// Name returns the segment name.
func (s *Segment) Name() string {
	return s.name
}

// Acquire blocks until the token is free or ctx is done.
func (s *Segment) Acquire(ctx context.Context) error {
	select {
	case s.token <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("segment %s: %w", s.name, ctx.Err())
	}
}

// Release returns the token. Releasing an unheld token panics.
func (s *Segment) Release() {
	select {
	case <-s.token:
	default:
		panic("transport: release of unheld segment token " + s.name)
	}
}

// Read holds the token for the duration of one read.
func (s *Segment) Read(ctx context.Context, req Request) ([]uint16, error) {
	if err := s.Acquire(ctx); err != nil {
		return nil, classify(err, req.Unit, req.Address)
	}
	defer s.Release()
	words, err := s.next.Read(ctx, req)
	return words, classify(err, req.Unit, req.Address)
}

// Write holds the token for the duration of one write.
func (s *Segment) Write(ctx context.Context, unit uint8, address uint16, words []uint16) error {
	if err := s.Acquire(ctx); err != nil {
		return classify(err, unit, address)
	}
	defer s.Release()
	return classify(s.next.Write(ctx, unit, address, words), unit, address)
}
