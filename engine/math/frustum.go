package math

import "github.com/go-gl/mathgl/mgl32"

// Plane order produced by ExtractFrustumPlanes.
const (
	PlaneLeft = iota
	PlaneRight
	PlaneBottom
	PlaneTop
	PlaneNear
	PlaneFar
	PlaneCount
)

// ExtractFrustumPlanes derives the six clip planes of vp with the
// Gribb-Hartmann method. Each plane (A,B,C,D) is normalized so |(A,B,C)| = 1
// and Ax+By+Cz+D >= 0 holds inside. The near plane assumes a -1..1 clip
// depth range, matching mgl32.Perspective.
func ExtractFrustumPlanes(vp mgl32.Mat4) [PlaneCount]mgl32.Vec4 {
	w := vp.Row(3)
	x := vp.Row(0)
	y := vp.Row(1)
	z := vp.Row(2)

	planes := [PlaneCount]mgl32.Vec4{
		PlaneLeft:   w.Add(x),
		PlaneRight:  w.Sub(x),
		PlaneBottom: w.Add(y),
		PlaneTop:    w.Sub(y),
		PlaneNear:   w.Add(z),
		PlaneFar:    w.Sub(z),
	}
	for i := range planes {
		planes[i] = NormalizePlane(planes[i])
	}
	return planes
}

// NormalizePlane scales p so its normal has unit length. Degenerate planes
// are returned unchanged.
func NormalizePlane(p mgl32.Vec4) mgl32.Vec4 {
	length := sqrt32(p[0]*p[0] + p[1]*p[1] + p[2]*p[2])
	if length == 0 {
		return p
	}
	return p.Mul(1 / length)
}

// PlaneDistance is the signed distance of point from a normalized plane.
func PlaneDistance(plane mgl32.Vec4, point mgl32.Vec3) float32 {
	return plane[0]*point[0] + plane[1]*point[1] + plane[2]*point[2] + plane[3]
}

// SphereInsideFrustum reports whether the sphere lies at least partly on the
// inner side of every plane. A sphere touching a plane counts as inside.
func SphereInsideFrustum(planes [PlaneCount]mgl32.Vec4, center mgl32.Vec3, radius float32) bool {
	for _, p := range planes {
		if PlaneDistance(p, center) < -radius {
			return false
		}
	}
	return true
}
