package software

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/renderer"
)

type Fence struct {
	dev *Device

	mu       sync.Mutex
	done     chan struct{}
	err      error
	pending  bool
	released bool
}

func newFence(d *Device, signaled bool) *Fence {
	f := &Fence{dev: d, done: make(chan struct{})}
	if signaled {
		close(f.done)
	}
	return f
}

func (f *Fence) isSignaled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// arm marks the fence as owned by a submission.
func (f *Fence) arm() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return errors.Wrap(renderer.ErrResourceReleased, "fence")
	}
	if f.pending {
		return errors.Wrap(renderer.ErrInvalidUsage, "fence is already pending")
	}
	if f.isSignaled() {
		f.dev.recordHazard(Hazard{Kind: HazardFenceState, Resource: "fence", Detail: "submitted while signaled"})
		return errors.Wrap(renderer.ErrInvalidUsage, "fence submitted while signaled")
	}
	f.pending = true
	return nil
}

func (f *Fence) disarm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = false
}

func (f *Fence) signal(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = false
	f.err = err
	if !f.isSignaled() {
		close(f.done)
	}
}

func (f *Fence) Wait(timeout time.Duration) error {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.err
	case <-timer.C:
		return errors.Wrapf(renderer.ErrDeviceLost, "fence not signaled after %s", timeout)
	}
}

func (f *Fence) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending {
		f.dev.recordHazard(Hazard{Kind: HazardFenceState, Resource: "fence", Detail: "reset while pending"})
		return errors.Wrap(renderer.ErrInvalidUsage, "fence reset while pending")
	}
	if f.isSignaled() {
		f.done = make(chan struct{})
		f.err = nil
	}
	return nil
}

func (f *Fence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isSignaled()
}

func (f *Fence) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending {
		f.dev.recordHazard(Hazard{Kind: HazardFenceState, Resource: "fence", Detail: "released while pending"})
	}
	f.released = true
}

// Semaphore is a binary semaphore: at most one pending signal.
type Semaphore struct {
	dev *Device
	ch  chan struct{}
}

func (s *Semaphore) signal() {
	select {
	case s.ch <- struct{}{}:
	default:
		s.dev.recordHazard(Hazard{Kind: HazardSemaphore, Resource: "semaphore", Detail: "signaled twice without a wait"})
	}
}

func (s *Semaphore) waitDevice(quit <-chan struct{}) bool {
	select {
	case <-s.ch:
		return true
	case <-quit:
		return false
	}
}

func (s *Semaphore) Release() {}
