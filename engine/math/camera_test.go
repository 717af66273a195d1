package math

import (
	m "math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/stretchr/testify/assert"
)

func vecInDelta(t *testing.T, want, got mgl32.Vec3) {
	t.Helper()
	for i := 0; i < 3; i++ {
		assert.InDelta(t, want[i], got[i], 1e-4, "component %d of %v", i, got)
	}
}

func TestCameraForward(t *testing.T) {
	c := &Camera{}
	vecInDelta(t, mgl32.Vec3{0, 0, -1}, c.Forward())

	c.Yaw = m.Pi
	vecInDelta(t, mgl32.Vec3{0, 0, 1}, c.Forward())
}

func TestCameraMovesAlongView(t *testing.T) {
	c := NewCamera(mgl32.Vec3{0, 0, 0}, 0.5)
	in := core.NewInputState(nil)

	in.ProcessKey(core.KEY_W, true)
	c.ProcessInput(in)
	c.Update()
	vecInDelta(t, mgl32.Vec3{0, 0, -0.5}, c.Position)

	in.ProcessKey(core.KEY_W, false)
	in.ProcessKey(core.KEY_SPACE, true)
	c.ProcessInput(in)
	c.Update()
	vecInDelta(t, mgl32.Vec3{0, 0.5, -0.5}, c.Position)
}

func TestCameraMouseLookAndReset(t *testing.T) {
	c := NewCamera(mgl32.Vec3{0, 50, 100}, 0.5)
	in := core.NewInputState(nil)

	in.ProcessMouseMove(0, 0)
	in.Update()
	in.ProcessMouseMove(200, 0)
	c.ProcessInput(in)
	assert.Zero(t, c.Yaw, "mouse look needs the right button")

	in.ProcessButton(core.BUTTON_RIGHT, true)
	c.ProcessInput(in)
	assert.InDelta(t, 1.0, c.Yaw, 1e-6)

	in.Update()
	in.ProcessMouseMove(200, -100000)
	c.ProcessInput(in)
	assert.InDelta(t, DegToRad(89), c.Pitch, 1e-6)

	in.Update()
	in.ProcessKey(core.KEY_V, true)
	c.ProcessInput(in)
	assert.Equal(t, float32(1), c.Speed)

	in.Update()
	in.ProcessKey(core.KEY_G, true)
	c.ProcessInput(in)
	assert.Equal(t, mgl32.Vec3{0, 50, 100}, c.Position)
	assert.Zero(t, c.Yaw)
	assert.Equal(t, float32(0.5), c.Speed)
}

func TestIntegerHelpers(t *testing.T) {
	assert.Equal(t, uint32(64), FloorPowerOfTwo(uint32(100)))
	assert.Equal(t, uint32(0), FloorPowerOfTwo(uint32(0)))
	assert.Equal(t, uint32(1), FloorPowerOfTwo(uint32(1)))
	assert.Equal(t, uint32(3), DivCeil(uint32(129), uint32(64)))
	assert.Equal(t, uint32(0), DivCeil(uint32(0), uint32(64)))
	assert.Equal(t, uint32(67108864), DivCeil(uint32(4294967285), uint32(64)))
	assert.Equal(t, uint32(1), DivCeil(^uint32(0), ^uint32(0)))
	assert.Equal(t, 5, Clamp(9, 0, 5))
}
