package systems

import (
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/gpucull/engine/containers"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

const statsQueueDepth = 4

// StatsSnapshot is one cull stats readback.
type StatsSnapshot struct {
	// Frame is the frame whose cull pass produced the counters.
	Frame   uint64
	Stats   metadata.CullStats
	Timings core.FrameTimings
}

// StatsReader logs and keeps the most recent readbacks. Snapshots are handed
// to a worker so the frame thread never blocks on diagnostics.
type StatsReader struct {
	every   atomic.Uint64
	jobs    *JobSystem
	dropped atomic.Uint64

	mu      sync.Mutex
	history *containers.RingQueue[StatsSnapshot]
}

// NewStatsReader reads every `every` frames, 0 disables readback. history is
// the number of snapshots kept.
func NewStatsReader(every uint64, history int) (*StatsReader, error) {
	if history < 1 {
		history = 1
	}
	jobs, err := NewJobSystem(1, statsQueueDepth)
	if err != nil {
		return nil, err
	}
	sr := &StatsReader{
		jobs:    jobs,
		history: containers.NewRingQueue[StatsSnapshot](history),
	}
	sr.every.Store(every)
	return sr, nil
}

func (sr *StatsReader) SetCadence(every uint64) {
	sr.every.Store(every)
}

func (sr *StatsReader) Cadence() uint64 {
	return sr.every.Load()
}

// Due reports whether frame should read back its slot's counters.
func (sr *StatsReader) Due(frame uint64) bool {
	every := sr.every.Load()
	return every > 0 && frame%every == 0
}

// Publish hands a snapshot to the worker. It never blocks; a snapshot that
// finds the queue full is dropped.
func (sr *StatsReader) Publish(s StatsSnapshot) bool {
	ok := sr.jobs.TrySubmit(Job{
		Name: "cull stats",
		Run: func() error {
			sr.record(s)
			return nil
		},
	})
	if !ok {
		sr.dropped.Add(1)
	}
	return ok
}

func (sr *StatsReader) record(s StatsSnapshot) {
	core.LogInfo("Inside frustum: %d / %d (%.1f%%)", s.Stats.VisibleCount, s.Stats.TotalCount, s.Stats.VisibleRatio())
	core.LogDebug("frame %d: %s", s.Frame, s.Timings)

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.history.Push(s)
}

// History returns the kept snapshots, oldest first.
func (sr *StatsReader) History() []StatsSnapshot {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.history.Items()
}

func (sr *StatsReader) Latest() (StatsSnapshot, bool) {
	h := sr.History()
	if len(h) == 0 {
		return StatsSnapshot{}, false
	}
	return h[len(h)-1], true
}

func (sr *StatsReader) Dropped() uint64 {
	return sr.dropped.Load()
}

// Shutdown records every published snapshot and stops the worker.
func (sr *StatsReader) Shutdown() error {
	return sr.jobs.Shutdown()
}
