package renderer

import "sync"

// Scope releases everything tracked in it in reverse acquisition order.
type Scope struct {
	mu       sync.Mutex
	items    []Releasable
	released bool
}

func NewScope() *Scope {
	return &Scope{}
}

func (s *Scope) Track(r Releasable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		r.Release()
		return
	}
	s.items = append(s.items, r)
}

// Add tracks r when err is nil and returns err, so creation calls can be
// wrapped in place.
func (s *Scope) Add(r Releasable, err error) error {
	if err != nil {
		return err
	}
	s.Track(r)
	return nil
}

// Child returns a scope that is released together with s, before anything
// s tracked earlier.
func (s *Scope) Child() *Scope {
	c := NewScope()
	s.Track(c)
	return c
}

func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Scope) Release() {
	s.mu.Lock()
	items := s.items
	s.items = nil
	s.released = true
	s.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		items[i].Release()
	}
}

// ReleaseFunc adapts a plain function to Releasable.
type ReleaseFunc func()

func (f ReleaseFunc) Release() { f() }
