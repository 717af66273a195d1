package software

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/renderer"
)

const DefaultImageCount = 3

type targetState uint8

const (
	targetAvailable targetState = iota
	targetAcquired
	targetQueued
)

type renderTarget struct {
	surface    *Surface
	index      uint32
	generation uint32

	mu     sync.Mutex
	state  targetState
	layout renderer.ImageLayout
	clear  mgl32.Vec4
}

func (t *renderTarget) Index() uint32 { return t.index }

func (t *renderTarget) Extent() (uint32, uint32) {
	return t.surface.Extent()
}

func (t *renderTarget) name() string {
	return fmt.Sprintf("target %d", t.index)
}

func (t *renderTarget) transition(d *Device, from, to renderer.ImageLayout) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if from != renderer.LayoutUndefined && from != t.layout {
		d.recordHazard(Hazard{
			Kind:     HazardImageLayout,
			Resource: t.name(),
			Detail:   fmt.Sprintf("transition from %s but image is %s", from, t.layout),
		})
	}
	t.layout = to
}

func (t *renderTarget) beginPass(d *Device, clear mgl32.Vec4) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.layout != renderer.LayoutColorAttachment {
		d.recordHazard(Hazard{
			Kind:     HazardImageLayout,
			Resource: t.name(),
			Detail:   fmt.Sprintf("render pass on image in %s", t.layout),
		})
	}
	t.clear = clear
}

// Surface is a headless presentation surface. Images cycle through
// acquire, render and present exactly as a swapchain's do, and presents
// are ordered on the device queue behind the submissions they wait on.
type Surface struct {
	dev *Device

	mu         sync.Mutex
	width      uint32
	height     uint32
	imageCount uint32
	targets    []*renderTarget
	free       chan *renderTarget
	generation uint32
	outOfDate  bool
	suboptimal bool
	pendingW   uint32
	pendingH   uint32
	released   bool

	presented atomic.Uint64
}

func NewSurface(dev *Device, width, height, imageCount uint32) *Surface {
	if imageCount == 0 {
		imageCount = DefaultImageCount
	}
	s := &Surface{dev: dev, imageCount: imageCount}
	s.build(width, height)
	return s
}

func (s *Surface) build(width, height uint32) {
	s.width, s.height = width, height
	s.generation++
	s.targets = make([]*renderTarget, s.imageCount)
	s.free = make(chan *renderTarget, s.imageCount)
	for i := range s.targets {
		t := &renderTarget{surface: s, index: uint32(i), generation: s.generation}
		s.targets[i] = t
		s.free <- t
	}
	s.outOfDate = false
	s.suboptimal = false
}

func (s *Surface) Acquire(signal renderer.Semaphore, timeout time.Duration) (renderer.RenderTarget, error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil, errors.Wrap(renderer.ErrResourceReleased, "surface")
	}
	if s.outOfDate {
		s.mu.Unlock()
		return nil, errors.Wrap(renderer.ErrSurfaceOutOfDate, "acquire")
	}
	free := s.free
	suboptimal := s.suboptimal
	s.mu.Unlock()

	sem, ok := signal.(*Semaphore)
	if !ok {
		return nil, errors.Wrap(renderer.ErrInvalidUsage, "acquire needs a software semaphore")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var t *renderTarget
	select {
	case t = <-free:
	case <-timer.C:
		return nil, errors.Wrapf(renderer.ErrDeviceLost, "no image available after %s", timeout)
	}

	t.mu.Lock()
	t.state = targetAcquired
	t.mu.Unlock()
	sem.signal()

	if suboptimal {
		return t, errors.Wrap(renderer.ErrSurfaceSuboptimal, "acquire")
	}
	return t, nil
}

func (s *Surface) Present(target renderer.RenderTarget, wait renderer.Semaphore) error {
	t, ok := target.(*renderTarget)
	if !ok || t.surface != s {
		return errors.Wrap(renderer.ErrInvalidUsage, "present of a foreign render target")
	}
	sem, _ := wait.(*Semaphore)

	s.mu.Lock()
	stale := t.generation != s.generation
	outOfDate, suboptimal := s.outOfDate, s.suboptimal
	s.mu.Unlock()
	if stale {
		return errors.Wrap(renderer.ErrSurfaceOutOfDate, "present of a target from a previous surface")
	}

	t.mu.Lock()
	if t.state != targetAcquired {
		t.mu.Unlock()
		return errors.Wrapf(renderer.ErrInvalidUsage, "present of %s which was not acquired", t.name())
	}
	t.state = targetQueued
	t.mu.Unlock()

	s.dev.enqueue(queueOp{wait: sem, present: func() { s.complete(t) }})

	switch {
	case outOfDate:
		return errors.Wrap(renderer.ErrSurfaceOutOfDate, "present")
	case suboptimal:
		return errors.Wrap(renderer.ErrSurfaceSuboptimal, "present")
	}
	return nil
}

// complete runs on the device queue once the present's wait is satisfied.
func (s *Surface) complete(t *renderTarget) {
	t.mu.Lock()
	if t.layout != renderer.LayoutPresentSrc {
		s.dev.recordHazard(Hazard{
			Kind:     HazardImageLayout,
			Resource: t.name(),
			Detail:   fmt.Sprintf("presented in %s", t.layout),
		})
	}
	t.state = targetAvailable
	t.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.presented.Add(1)
	if t.generation == s.generation {
		s.free <- t
	}
}

// Rebuild recreates every image. The caller must have waited for the
// device to go idle.
func (s *Surface) Rebuild(width, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return errors.Wrap(renderer.ErrResourceReleased, "surface")
	}
	if width == 0 || height == 0 {
		width, height = s.pendingW, s.pendingH
	}
	if width == 0 || height == 0 {
		width, height = s.width, s.height
	}
	s.build(width, height)
	s.pendingW, s.pendingH = 0, 0
	return nil
}

// Resize marks the surface out of date, as a window resize would.
func (s *Surface) Resize(width, height uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outOfDate = true
	s.pendingW, s.pendingH = width, height
}

// ForceSuboptimal makes acquire and present report a suboptimal surface
// until the next rebuild.
func (s *Surface) ForceSuboptimal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suboptimal = true
}

func (s *Surface) Extent() (uint32, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *Surface) ImageCount() uint32 {
	return s.imageCount
}

func (s *Surface) Generation() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Surface) Presented() uint64 {
	return s.presented.Load()
}

// ClearColor returns the clear color of the last render pass on image i.
func (s *Surface) ClearColor(i uint32) mgl32.Vec4 {
	s.mu.Lock()
	t := s.targets[i]
	s.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clear
}

func (s *Surface) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
}
