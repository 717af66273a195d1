package platform

import "github.com/spaghettifunk/gpucull/engine/core"

// HeadlessPlatform has no window. It reports a fixed framebuffer size and
// asks to close once its frame budget is spent. A zero budget never closes.
type HeadlessPlatform struct {
	width  uint32
	height uint32
	budget uint64
	pumped uint64
	closed bool

	events *core.EventBus
}

func NewHeadlessPlatform(budget uint64, events *core.EventBus) *HeadlessPlatform {
	return &HeadlessPlatform{budget: budget, events: events}
}

func (p *HeadlessPlatform) Startup(applicationName string, width, height uint32) error {
	p.width, p.height = width, height
	core.LogInfo("headless platform %q at %dx%d", applicationName, width, height)
	return nil
}

func (p *HeadlessPlatform) PumpMessages() {
	p.pumped++
	if p.budget != 0 && p.pumped >= p.budget {
		p.closed = true
	}
}

func (p *HeadlessPlatform) ShouldClose() bool {
	return p.closed
}

func (p *HeadlessPlatform) FramebufferSize() (uint32, uint32) {
	return p.width, p.height
}

// Resize changes the reported size and publishes the change like a window
// would.
func (p *HeadlessPlatform) Resize(width, height uint32) {
	p.width, p.height = width, height
	if p.events != nil {
		p.events.Fire(core.EventContext{
			Type: core.EVENT_CODE_RESIZED,
			Data: &core.SystemEvent{WindowWidth: width, WindowHeight: height},
		})
	}
}

func (p *HeadlessPlatform) Close() {
	p.closed = true
}

func (p *HeadlessPlatform) Shutdown() error {
	p.closed = true
	return nil
}
