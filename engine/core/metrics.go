package core

import (
	"fmt"
	"time"
)

const AVG_COUNT uint8 = 30

// FrameTimings are the host-side durations of one frame, split by phase.
type FrameTimings struct {
	WaitFence      time.Duration
	AcquireImage   time.Duration
	RecordCommands time.Duration
	Submit         time.Duration
	Present        time.Duration
	Total          time.Duration
}

func (ft FrameTimings) String() string {
	return fmt.Sprintf("fence %.3fms | acquire %.3fms | record %.3fms | submit %.3fms | present %.3fms | total %.3fms",
		ms(ft.WaitFence), ms(ft.AcquireImage), ms(ft.RecordCommands), ms(ft.Submit), ms(ft.Present), ms(ft.Total))
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type Metrics struct {
	frameAVGCounter    uint8
	samples            [AVG_COUNT]FrameTimings
	filled             uint8
	average            FrameTimings
	frames             int32
	accumulatedFrameMS float64
	fps                float64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Update records one frame. The average is refreshed every time the window wraps.
func (m *Metrics) Update(t FrameTimings) {
	m.samples[m.frameAVGCounter] = t
	if m.filled < AVG_COUNT {
		m.filled++
	}
	if m.frameAVGCounter == AVG_COUNT-1 {
		m.average = averageTimings(m.samples[:])
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	m.accumulatedFrameMS += ms(t.Total)
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}
	m.frames++
}

func averageTimings(samples []FrameTimings) FrameTimings {
	var sum FrameTimings
	for _, s := range samples {
		sum.WaitFence += s.WaitFence
		sum.AcquireImage += s.AcquireImage
		sum.RecordCommands += s.RecordCommands
		sum.Submit += s.Submit
		sum.Present += s.Present
		sum.Total += s.Total
	}
	n := time.Duration(len(samples))
	return FrameTimings{
		WaitFence:      sum.WaitFence / n,
		AcquireImage:   sum.AcquireImage / n,
		RecordCommands: sum.RecordCommands / n,
		Submit:         sum.Submit / n,
		Present:        sum.Present / n,
		Total:          sum.Total / n,
	}
}

func (m *Metrics) FPS() float64 {
	return m.fps
}

// Average returns the windowed average. Before the first full window it
// averages whatever has been recorded so far.
func (m *Metrics) Average() FrameTimings {
	if m.filled < AVG_COUNT {
		if m.filled == 0 {
			return FrameTimings{}
		}
		return averageTimings(m.samples[:m.filled])
	}
	return m.average
}
