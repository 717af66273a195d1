package metadata

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSizes(t *testing.T) {
	assert.Equal(t, 16, InstanceRecordSize)
	assert.Equal(t, 160, CullUniformSize)
	assert.Equal(t, 20, DrawCommandSize)
	assert.Equal(t, 12, CullStatsSize)
	assert.Equal(t, 48, VertexSize)
	assert.Equal(t, 80, MeshPushConstantsSize)
	assert.Equal(t, 16, CullPushConstantsSize)

	assert.Len(t, NewCullUniform(mgl32.Ident4()).Bytes(), CullUniformSize)
	assert.Len(t, CullStats{}.Bytes(), CullStatsSize)
	assert.Len(t, MeshPushConstants{}.Bytes(), MeshPushConstantsSize)
	assert.Len(t, CullPushConstants{}.Bytes(), CullPushConstantsSize)
}

func TestDrawCommandFieldOffsets(t *testing.T) {
	b := EncodeDrawCommands([]DrawCommand{{
		IndexCount:    36,
		InstanceCount: 7,
		FirstIndex:    3,
		VertexOffset:  -2,
		FirstInstance: 9,
	}})
	require.Len(t, b, DrawCommandSize)

	assert.Equal(t, uint32(36), le.Uint32(b[0:]))
	assert.Equal(t, uint32(7), le.Uint32(b[DrawCommandInstanceCountOffset:]))
	assert.Equal(t, uint32(3), le.Uint32(b[8:]))
	assert.Equal(t, int32(-2), int32(le.Uint32(b[12:])))
	assert.Equal(t, uint32(9), le.Uint32(b[16:]))

	_, err := DecodeDrawCommands(b[:DrawCommandSize-1])
	assert.Error(t, err)
}

func TestCullStatsOffsets(t *testing.T) {
	b := CullStats{VisibleCount: 1, OccludedCount: 2, TotalCount: 3}.Bytes()
	assert.Equal(t, uint32(1), le.Uint32(b[CullStatsVisibleOffset:]))
	assert.Equal(t, uint32(2), le.Uint32(b[CullStatsOccludedOffset:]))
	assert.Equal(t, uint32(3), le.Uint32(b[CullStatsTotalOffset:]))

	s, err := DecodeCullStats(b)
	require.NoError(t, err)
	assert.InDelta(t, 33.33, s.VisibleRatio(), 0.01)
	assert.Zero(t, CullStats{}.VisibleRatio())
}

func TestInstanceEncoding(t *testing.T) {
	in := []InstanceRecord{
		{Position: mgl32.Vec3{1, 2, 3}, Scale: 0.5},
		{Position: mgl32.Vec3{-4, 0, 8}, Scale: 2},
	}
	b := EncodeInstances(in)
	require.Len(t, b, 2*InstanceRecordSize)
	assert.Equal(t, float32(0.5), getFloat(b[12:]))

	out, err := DecodeInstances(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, float32(1), in[1].Radius(0.5))
}

func TestCullUniformLayout(t *testing.T) {
	vp := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 8)
	u := NewCullUniform(vp)
	b := u.Bytes()

	// Matrix is column major, planes follow at offset 64.
	assert.Equal(t, vp[4], getFloat(b[16:]))
	assert.Equal(t, u.FrustumPlanes[2], getVec4(b[64+2*16:]))

	back, err := DecodeCullUniform(b)
	require.NoError(t, err)
	assert.Equal(t, u, back)
}

func TestMeshPushConstantsLayout(t *testing.T) {
	p := MeshPushConstants{
		RenderMatrix: mgl32.Translate3D(1, 2, 3),
		VertexBuffer: 0xdeadbeef00,
		Layout:       CommandLayoutPerInstance,
	}
	b := p.Bytes()
	assert.Equal(t, uint64(0xdeadbeef00), le.Uint64(b[64:]))
	assert.Equal(t, uint32(1), le.Uint32(b[72:]))
	assert.Equal(t, p, DecodeMeshPushConstants(b))
}

func TestInitialDrawCommands(t *testing.T) {
	mesh := MeshRange{IndexCount: 36}

	merged := InitialDrawCommands(CommandLayoutMerged, mesh, 10)
	require.Len(t, merged, 1)
	assert.Zero(t, merged[0].InstanceCount)
	assert.Equal(t, uint32(36), merged[0].IndexCount)

	per := InitialDrawCommands(CommandLayoutPerInstance, mesh, 4)
	require.Len(t, per, 4)
	for i, c := range per {
		assert.Equal(t, uint32(i), c.FirstInstance)
		assert.Zero(t, c.InstanceCount)
	}

	assert.Len(t, InitialDrawCommands(CommandLayoutPerInstance, mesh, 0), 0)
	assert.Len(t, InitialDrawCommands(CommandLayoutMerged, mesh, 0), 1)
}

func TestParseCommandLayout(t *testing.T) {
	l, err := ParseCommandLayout("per-instance")
	require.NoError(t, err)
	assert.Equal(t, CommandLayoutPerInstance, l)
	assert.Equal(t, "per-instance", l.String())

	l, err = ParseCommandLayout("merged")
	require.NoError(t, err)
	assert.Equal(t, CommandLayoutMerged, l)

	_, err = ParseCommandLayout("sideways")
	assert.Error(t, err)
}

func TestCube(t *testing.T) {
	c := NewCube(1)
	assert.Len(t, c.Vertices, 24)
	assert.Len(t, c.Indices, 36)
	assert.InDelta(t, 0.866, c.Radius, 0.001)
	assert.Len(t, c.VertexBytes(), 24*VertexSize)
	assert.Len(t, c.IndexBytes(), 36*IndexSize)

	v := c.Vertices[5]
	assert.Equal(t, v, GetVertex(c.VertexBytes()[5*VertexSize:]))
}

func TestGrid(t *testing.T) {
	g := Grid(GridConfig{CountX: 3, CountY: 1, CountZ: 2, Spacing: 2, Scale: 0.5})
	require.Len(t, g, 6)
	assert.Equal(t, mgl32.Vec3{-2, 0, -1}, g[0].Position)
	assert.Equal(t, mgl32.Vec3{2, 0, 1}, g[5].Position)
	assert.Len(t, Grid(GridConfig{CountX: 0, CountY: 4, CountZ: 4}), 0)
}

func TestAligned(t *testing.T) {
	assert.Equal(t, uint64(256), GetAligned(1, 256))
	assert.Equal(t, uint64(256), GetAligned(256, 256))
	assert.Equal(t, MemoryRange{Offset: 0, Size: 16}, GetAlignedRange(0, 12, 16))
}
