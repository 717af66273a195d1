package math

import (
	m "math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFrustumPlanesAreNormalized(t *testing.T) {
	cameras := []*Camera{
		NewCamera(mgl32.Vec3{0, 50, 100}, 0.5),
		{Position: mgl32.Vec3{3, -2, 7}, Pitch: 0.4, Yaw: 1.2},
		{Position: mgl32.Vec3{-10, 0, 0}, Pitch: -1.1, Yaw: -2.5},
	}
	projections := []Projection{
		{Fov: 70, Aspect: 16.0 / 9.0, Near: 0.1, Far: 10000},
		{Fov: 90, Aspect: 1, Near: 0.1, Far: 8},
		{Fov: 30, Aspect: 0.5, Near: 1, Far: 50},
	}
	for _, c := range cameras {
		for _, p := range projections {
			planes := ExtractFrustumPlanes(c.ViewProjection(p))
			for i, pl := range planes {
				length := m.Sqrt(float64(pl[0]*pl[0] + pl[1]*pl[1] + pl[2]*pl[2]))
				assert.InDelta(t, 1.0, length, 1e-5, "plane %d", i)
			}
		}
	}
}

func TestFrustumLookingDownPositiveZ(t *testing.T) {
	cam := &Camera{Yaw: m.Pi}
	proj := Projection{Fov: 90, Aspect: 1, Near: 0.1, Far: 8}
	planes := ExtractFrustumPlanes(cam.ViewProjection(proj))

	near := planes[PlaneNear]
	assert.InDelta(t, 1, near[2], 1e-4)
	assert.InDelta(t, -0.1, near[3], 1e-3)

	far := planes[PlaneFar]
	assert.InDelta(t, -1, far[2], 1e-4)
	assert.InDelta(t, 8, far[3], 1e-2)

	// 90 degree cone: side planes lean 45 degrees.
	assert.InDelta(t, 0, PlaneDistance(planes[PlaneLeft], mgl32.Vec3{5, 0, 5}), 1e-4)
	assert.InDelta(t, 0, PlaneDistance(planes[PlaneRight], mgl32.Vec3{-5, 0, 5}), 1e-4)
	assert.InDelta(t, float32(-5/m.Sqrt2), PlaneDistance(planes[PlaneLeft], mgl32.Vec3{10, 0, 5}), 1e-4)
}

func TestSphereInsideFrustum(t *testing.T) {
	cam := &Camera{Yaw: m.Pi}
	proj := Projection{Fov: 90, Aspect: 1, Near: 0.1, Far: 8}
	planes := ExtractFrustumPlanes(cam.ViewProjection(proj))

	tests := []struct {
		name   string
		center mgl32.Vec3
		radius float32
		want   bool
	}{
		{"ahead", mgl32.Vec3{0, 0, 4}, 0.5, true},
		{"behind camera", mgl32.Vec3{0, 0, -5}, 0.5, false},
		{"beyond far plane", mgl32.Vec3{0, 0, 10}, 0.5, false},
		{"straddles far plane", mgl32.Vec3{0, 0, 8.4}, 0.5, true},
		{"outside cone", mgl32.Vec3{10, 0, 5}, 0.5, false},
		{"straddles near plane", mgl32.Vec3{0, 0, -0.3}, 0.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SphereInsideFrustum(planes, tt.center, tt.radius))
		})
	}
}

func TestSphereOnPlaneBoundaryIsInside(t *testing.T) {
	// A box of axis planes, each 1 unit from the origin.
	planes := [PlaneCount]mgl32.Vec4{
		{1, 0, 0, 1}, {-1, 0, 0, 1},
		{0, 1, 0, 1}, {0, -1, 0, 1},
		{0, 0, 1, 1}, {0, 0, -1, 1},
	}
	require.True(t, SphereInsideFrustum(planes, mgl32.Vec3{-1.5, 0, 0}, 0.5))
	require.True(t, SphereInsideFrustum(planes, mgl32.Vec3{1, 0, 0}, 0))
	require.False(t, SphereInsideFrustum(planes, mgl32.Vec3{-1.5, 0, 0}, 0.49))
}

func TestProjectionFlipsY(t *testing.T) {
	p := Projection{Fov: 70, Aspect: 1, Near: 0.1, Far: 100}
	gl := mgl32.Perspective(DegToRad(70), 1, 0.1, 100)
	assert.Equal(t, -gl.At(1, 1), p.Matrix().At(1, 1))
}
