package platform

import (
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadlessBudget(t *testing.T) {
	p := NewHeadlessPlatform(3, nil)
	require.NoError(t, p.Startup("test", 64, 32))

	w, h := p.FramebufferSize()
	assert.Equal(t, uint32(64), w)
	assert.Equal(t, uint32(32), h)

	for i := 0; i < 2; i++ {
		p.PumpMessages()
		assert.False(t, p.ShouldClose())
	}
	p.PumpMessages()
	assert.True(t, p.ShouldClose())
}

func TestHeadlessUnlimited(t *testing.T) {
	p := NewHeadlessPlatform(0, nil)
	require.NoError(t, p.Startup("test", 8, 8))
	for i := 0; i < 1000; i++ {
		p.PumpMessages()
	}
	assert.False(t, p.ShouldClose())
	p.Close()
	assert.True(t, p.ShouldClose())
}

func TestHeadlessResizeFiresEvent(t *testing.T) {
	bus := core.NewEventBus()
	var got *core.SystemEvent
	bus.Register(core.EVENT_CODE_RESIZED, func(ctx core.EventContext) bool {
		got = ctx.Data.(*core.SystemEvent)
		return true
	})
	p := NewHeadlessPlatform(0, bus)
	require.NoError(t, p.Startup("test", 8, 8))

	p.Resize(100, 50)
	require.NotNil(t, got)
	assert.Equal(t, uint32(100), got.WindowWidth)
	assert.Equal(t, uint32(50), got.WindowHeight)
	w, h := p.FramebufferSize()
	assert.Equal(t, uint32(100), w)
	assert.Equal(t, uint32(50), h)
}

func TestTranslateKey(t *testing.T) {
	tests := []struct {
		key  glfw.Key
		want core.KeyCode
		ok   bool
	}{
		{glfw.KeyA, core.KEY_A, true},
		{glfw.KeyW, core.KEY_W, true},
		{glfw.KeyZ, core.KEY_Z, true},
		{glfw.KeyEscape, core.KEY_ESCAPE, true},
		{glfw.KeySpace, core.KEY_SPACE, true},
		{glfw.KeyLeftShift, core.KEY_LSHIFT, true},
		{glfw.KeyF12, 0, false},
	}
	for _, tt := range tests {
		got, ok := translateKey(tt.key)
		assert.Equal(t, tt.ok, ok, "key %d", tt.key)
		if tt.ok {
			assert.Equal(t, tt.want, got, "key %d", tt.key)
		}
	}
}

func TestTranslateButton(t *testing.T) {
	b, ok := translateButton(glfw.MouseButtonRight)
	assert.True(t, ok)
	assert.Equal(t, core.BUTTON_RIGHT, b)

	_, ok = translateButton(glfw.MouseButton4)
	assert.False(t, ok)
}
