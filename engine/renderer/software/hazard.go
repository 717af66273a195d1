package software

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/gpucull/engine/renderer"
)

type HazardKind uint8

const (
	// A device or host access read memory whose last write was not made
	// visible to it by a barrier.
	HazardMissingBarrier HazardKind = iota
	// The host wrote a buffer referenced by a submission that has not completed.
	HazardHostWriteInFlight
	// The host read a buffer referenced by a submission that has not completed.
	HazardHostReadInFlight
	HazardImageLayout
	HazardCommandSequenceInUse
	HazardSemaphore
	HazardFenceState
)

func (k HazardKind) String() string {
	switch k {
	case HazardMissingBarrier:
		return "missing-barrier"
	case HazardHostWriteInFlight:
		return "host-write-in-flight"
	case HazardHostReadInFlight:
		return "host-read-in-flight"
	case HazardImageLayout:
		return "image-layout"
	case HazardCommandSequenceInUse:
		return "command-sequence-in-use"
	case HazardSemaphore:
		return "semaphore"
	case HazardFenceState:
		return "fence-state"
	}
	return fmt.Sprintf("HazardKind(%d)", uint8(k))
}

type Hazard struct {
	Kind     HazardKind
	Resource string
	Detail   string
}

func (h Hazard) String() string {
	return fmt.Sprintf("%s on %s: %s", h.Kind, h.Resource, h.Detail)
}

// memoryState tracks the last device write to a buffer and which stages
// and accesses it has since been made visible to.
type memoryState struct {
	mu            sync.Mutex
	dirty         bool
	writeStage    renderer.PipelineStage
	writeAccess   renderer.Access
	visibleStages renderer.PipelineStage
	visibleAccess renderer.Access
	writer        string
}

func (m *memoryState) write(stage renderer.PipelineStage, access renderer.Access, by string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = true
	m.writeStage = stage
	m.writeAccess = access
	m.visibleStages = 0
	m.visibleAccess = 0
	m.writer = by
}

// visible reports whether an access by stage may observe the last write.
func (m *memoryState) visible(stage renderer.PipelineStage, access renderer.Access) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return true, ""
	}
	return m.visibleStages.Has(stage) && m.visibleAccess.Has(access), m.writer
}

func (m *memoryState) barrier(b renderer.MemoryBarrier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return
	}
	if b.SrcStage&m.writeStage != 0 && b.SrcAccess&m.writeAccess != 0 {
		m.visibleStages |= b.DstStage
		m.visibleAccess |= b.DstAccess
	}
}

func (d *Device) checkRead(b *Buffer, stage renderer.PipelineStage, access renderer.Access, by string) {
	if ok, writer := b.mem.visible(stage, access); !ok {
		d.recordHazard(Hazard{
			Kind:     HazardMissingBarrier,
			Resource: b.desc.Name,
			Detail:   fmt.Sprintf("%s reads data written by %s", by, writer),
		})
	}
}

// applyBarrier applies a global memory barrier to every live buffer.
func (d *Device) applyBarrier(b renderer.MemoryBarrier) {
	d.mu.Lock()
	buffers := make([]*Buffer, 0, len(d.buffers))
	for _, buf := range d.buffers {
		buffers = append(buffers, buf)
	}
	d.mu.Unlock()

	for _, buf := range buffers {
		buf.mem.barrier(b)
	}
}
