package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputStateKeyTransitions(t *testing.T) {
	bus := NewEventBus()
	var pressed []KeyCode
	bus.Register(EVENT_CODE_KEY_PRESSED, func(ctx EventContext) bool {
		pressed = append(pressed, ctx.Data.(*KeyEvent).KeyCode)
		return false
	})

	in := NewInputState(bus)
	in.ProcessKey(KEY_W, true)
	in.ProcessKey(KEY_W, true)

	assert.True(t, in.IsKeyDown(KEY_W))
	assert.True(t, in.KeyPressed(KEY_W))
	assert.Equal(t, []KeyCode{KEY_W}, pressed, "repeated state must not fire twice")

	in.Update()
	assert.True(t, in.WasKeyDown(KEY_W))
	assert.False(t, in.KeyPressed(KEY_W))

	in.ProcessKey(KEY_W, false)
	assert.True(t, in.IsKeyUp(KEY_W))
}

func TestInputStateMouseDelta(t *testing.T) {
	in := NewInputState(nil)

	in.ProcessMouseMove(100, 50)
	dx, dy := in.MouseDelta()
	require.Zero(t, dx)
	require.Zero(t, dy)

	in.Update()
	in.ProcessMouseMove(120, 40)
	dx, dy = in.MouseDelta()
	assert.Equal(t, 20.0, dx)
	assert.Equal(t, -10.0, dy)

	in.ProcessButton(BUTTON_RIGHT, true)
	assert.True(t, in.IsButtonDown(BUTTON_RIGHT))
	assert.False(t, in.WasButtonDown(BUTTON_RIGHT))
}

func TestEventBusStopsWhenHandled(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	bus.Register(EVENT_CODE_APPLICATION_QUIT, func(EventContext) bool { calls++; return true })
	bus.Register(EVENT_CODE_APPLICATION_QUIT, func(EventContext) bool { calls++; return false })

	assert.True(t, bus.Fire(EventContext{Type: EVENT_CODE_APPLICATION_QUIT}))
	assert.Equal(t, 1, calls)
	assert.False(t, bus.Fire(EventContext{Type: EVENT_CODE_RESIZED}))
}
