package gpio

import (
	"fmt"
	"sync"
)

// Sim is an in-memory backend. Input levels are driven with Set; output
// levels written by drivers can be inspected with Level.
type Sim struct {
	mu     sync.Mutex
	levels map[int]bool
	open   map[int]Direction
}

// NewSim creates an empty simulated bank with every line low.
func NewSim() *Sim {
	return &Sim{
		levels: make(map[int]bool),
		open:   make(map[int]Direction),
	}
}

// Open implements Backend.
func (s *Sim) Open(pin int, dir Direction) (Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.open[pin]; busy {
		return nil, fmt.Errorf("%w: %d", ErrPinInUse, pin)
	}
	s.open[pin] = dir
	return &simPin{sim: s, n: pin, dir: dir}, nil
}

// Set drives the level seen by reads of pin.
func (s *Sim) Set(pin int, high bool) {
	s.mu.Lock()
	s.levels[pin] = high
	s.mu.Unlock()
}

// Level returns the current level of pin.
func (s *Sim) Level(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[pin]
}

type simPin struct {
	sim    *Sim
	n      int
	dir    Direction
	closed bool
}

func (p *simPin) Number() int { return p.n }

func (p *simPin) Read() (bool, error) {
	p.sim.mu.Lock()
	defer p.sim.mu.Unlock()
	if p.closed {
		return false, ErrClosed
	}
	return p.sim.levels[p.n], nil
}

func (p *simPin) Write(high bool) error {
	p.sim.mu.Lock()
	defer p.sim.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.dir != Output {
		return ErrWrongDirection
	}
	p.sim.levels[p.n] = high
	return nil
}

func (p *simPin) Close() error {
	p.sim.mu.Lock()
	defer p.sim.mu.Unlock()
	if !p.closed {
		p.closed = true
		delete(p.sim.open, p.n)
	}
	return nil
}
