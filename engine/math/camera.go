package math

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/gpucull/engine/core"
)

const (
	mouseLookDivisor float32 = 200
	maxPitch         float32 = 89
	minSpeed         float32 = 0.05
	maxSpeed         float32 = 50
)

// Projection describes a perspective projection. Fov is vertical, in degrees.
type Projection struct {
	Fov    float32
	Aspect float32
	Near   float32
	Far    float32
}

// Matrix returns the projection with Y flipped for a top-left origin
// framebuffer so the image is not mirrored vertically.
func (p Projection) Matrix() mgl32.Mat4 {
	proj := mgl32.Perspective(DegToRad(p.Fov), p.Aspect, p.Near, p.Far)
	proj.Set(1, 1, -proj.At(1, 1))
	return proj
}

// Camera is a fly camera. Yaw rotates about -Y, pitch about +X; at zero yaw
// and pitch it looks down -Z.
type Camera struct {
	Position mgl32.Vec3
	Velocity mgl32.Vec3
	Pitch    float32
	Yaw      float32
	Speed    float32

	home      mgl32.Vec3
	homePitch float32
	homeYaw   float32
	homeSpeed float32
}

func NewCamera(position mgl32.Vec3, speed float32) *Camera {
	return &Camera{
		Position:  position,
		Speed:     speed,
		home:      position,
		homeSpeed: speed,
	}
}

// Rotation returns yaw combined with pitch as a rotation matrix.
func (c *Camera) Rotation() mgl32.Mat4 {
	pitch := mgl32.QuatRotate(c.Pitch, mgl32.Vec3{1, 0, 0})
	yaw := mgl32.QuatRotate(c.Yaw, mgl32.Vec3{0, -1, 0})
	return yaw.Mat4().Mul4(pitch.Mat4())
}

// View is the inverse of the camera's translation composed with its rotation.
func (c *Camera) View() mgl32.Mat4 {
	translation := mgl32.Translate3D(c.Position.X(), c.Position.Y(), c.Position.Z())
	return translation.Mul4(c.Rotation()).Inv()
}

func (c *Camera) Forward() mgl32.Vec3 {
	return c.Rotation().Mul4x1(mgl32.Vec4{0, 0, -1, 0}).Vec3()
}

// ViewProjection returns projection * view.
func (c *Camera) ViewProjection(p Projection) mgl32.Mat4 {
	return p.Matrix().Mul4(c.View())
}

// Reset restores the pose the camera was created with.
func (c *Camera) Reset() {
	c.Position = c.home
	c.Pitch = c.homePitch
	c.Yaw = c.homeYaw
	c.Speed = c.homeSpeed
	c.Velocity = mgl32.Vec3{}
}

// ProcessInput derives velocity and orientation from the frame's input.
// Mouse look is active while the right button is held.
func (c *Camera) ProcessInput(input *core.InputState) {
	var v mgl32.Vec3
	if input.IsKeyDown(core.KEY_W) {
		v[2] -= 1
	}
	if input.IsKeyDown(core.KEY_S) {
		v[2] += 1
	}
	if input.IsKeyDown(core.KEY_A) {
		v[0] -= 1
	}
	if input.IsKeyDown(core.KEY_D) {
		v[0] += 1
	}
	if input.IsKeyDown(core.KEY_SPACE) {
		v[1] += 1
	}
	if input.IsKeyDown(core.KEY_LSHIFT) {
		v[1] -= 1
	}
	c.Velocity = v

	if input.KeyPressed(core.KEY_G) {
		c.Reset()
	}
	if input.KeyPressed(core.KEY_C) {
		c.Speed = Clamp(c.Speed*0.5, minSpeed, maxSpeed)
	}
	if input.KeyPressed(core.KEY_V) {
		c.Speed = Clamp(c.Speed*2, minSpeed, maxSpeed)
	}

	if input.IsButtonDown(core.BUTTON_RIGHT) {
		dx, dy := input.MouseDelta()
		c.Yaw += float32(dx) / mouseLookDivisor
		c.Pitch -= float32(dy) / mouseLookDivisor
		limit := DegToRad(maxPitch)
		c.Pitch = Clamp(c.Pitch, -limit, limit)
	}
}

// Update moves the camera along its velocity expressed in camera space.
func (c *Camera) Update() {
	if c.Velocity.Len() == 0 {
		return
	}
	step := c.Rotation().Mul4x1(c.Velocity.Mul(c.Speed).Vec4(0)).Vec3()
	c.Position = c.Position.Add(step)
}
