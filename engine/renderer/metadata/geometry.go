package metadata

import (
	"github.com/go-gl/mathgl/mgl32"
)

const (
	VertexSize            = 48
	MeshPushConstantsSize = 80
	IndexSize             = 4
)

// MeshPipelineName names the graphics pipeline running shaders/mesh.vert and mesh.frag.
const MeshPipelineName = "mesh"

/** @brief The name of the default geometry. */
const DefaultGeometryName string = "cube"

// Vertex is pulled by the vertex shader from a storage buffer, so the UVs
// are split around the vec3 fields to keep the std430 layout free of padding.
type Vertex struct {
	Position mgl32.Vec3
	UVX      float32
	Normal   mgl32.Vec3
	UVY      float32
	Color    mgl32.Vec4
}

func (v Vertex) Put(b []byte) {
	putVec3(b, v.Position)
	putFloat(b[12:], v.UVX)
	putVec3(b[16:], v.Normal)
	putFloat(b[28:], v.UVY)
	putVec4(b[32:], v.Color)
}

func GetVertex(b []byte) Vertex {
	return Vertex{
		Position: getVec3(b),
		UVX:      getFloat(b[12:]),
		Normal:   getVec3(b[16:]),
		UVY:      getFloat(b[28:]),
		Color:    getVec4(b[32:]),
	}
}

// MeshRange locates one mesh inside the shared index buffer.
type MeshRange struct {
	IndexCount   uint32
	FirstIndex   uint32
	VertexOffset int32
}

/**
 * @brief Represents the configuration for a geometry.
 */
type GeometryConfig struct {
	Name     string
	Vertices []Vertex
	Indices  []uint32
	// Bounding sphere radius around the local origin.
	Radius float32
}

func (g *GeometryConfig) Range() MeshRange {
	return MeshRange{IndexCount: uint32(len(g.Indices))}
}

func (g *GeometryConfig) VertexBytes() []byte {
	out := make([]byte, len(g.Vertices)*VertexSize)
	for i, v := range g.Vertices {
		v.Put(out[i*VertexSize:])
	}
	return out
}

func (g *GeometryConfig) IndexBytes() []byte {
	out := make([]byte, len(g.Indices)*IndexSize)
	for i, idx := range g.Indices {
		le.PutUint32(out[i*IndexSize:], idx)
	}
	return out
}

// BoundingRadius is the distance from the origin to the farthest vertex.
func BoundingRadius(vertices []Vertex) float32 {
	var r float32
	for _, v := range vertices {
		if l := v.Position.Len(); l > r {
			r = l
		}
	}
	return r
}

// NewCube builds a cube of the given edge length centred on the
// origin, four vertices per face so each face carries its own normal and UVs.
func NewCube(size float32) *GeometryConfig {
	h := size / 2
	faces := []struct {
		normal mgl32.Vec3
		u, v   mgl32.Vec3
		color  mgl32.Vec4
	}{
		{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}, mgl32.Vec4{1, 0.3, 0.3, 1}},
		{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 1, 0}, mgl32.Vec4{0.3, 1, 0.3, 1}},
		{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}, mgl32.Vec4{0.3, 0.3, 1, 1}},
		{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 1, 0}, mgl32.Vec4{1, 1, 0.3, 1}},
		{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec4{0.3, 1, 1, 1}},
		{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec4{1, 0.3, 1, 1}},
	}
	corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}

	cfg := &GeometryConfig{Name: DefaultGeometryName}
	for _, f := range faces {
		base := uint32(len(cfg.Vertices))
		for _, c := range corners {
			pos := f.normal.Mul(h).Add(f.u.Mul(c[0] * h)).Add(f.v.Mul(c[1] * h))
			cfg.Vertices = append(cfg.Vertices, Vertex{
				Position: pos,
				UVX:      (c[0] + 1) / 2,
				Normal:   f.normal,
				UVY:      1 - (c[1]+1)/2,
				Color:    f.color,
			})
		}
		cfg.Indices = append(cfg.Indices, base, base+1, base+2, base+2, base+3, base)
	}
	cfg.Radius = BoundingRadius(cfg.Vertices)
	return cfg
}

// MeshPushConstants carry projection * view * world and the device address
// of the vertex buffer to the mesh pipeline.
type MeshPushConstants struct {
	RenderMatrix mgl32.Mat4
	VertexBuffer uint64
	Layout       CommandLayout
}

func (p MeshPushConstants) Bytes() []byte {
	b := make([]byte, MeshPushConstantsSize)
	putMat4(b, p.RenderMatrix)
	le.PutUint64(b[64:], p.VertexBuffer)
	le.PutUint32(b[72:], uint32(p.Layout))
	return b
}

func DecodeMeshPushConstants(b []byte) MeshPushConstants {
	return MeshPushConstants{
		RenderMatrix: getMat4(b),
		VertexBuffer: le.Uint64(b[64:]),
		Layout:       CommandLayout(le.Uint32(b[72:])),
	}
}
