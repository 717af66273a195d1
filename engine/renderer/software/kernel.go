package software

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/math"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

// DispatchState is what one compute dispatch sees: its push constants and
// the buffers of the bound binding set.
type DispatchState struct {
	GroupCount [3]uint32
	GroupSize  uint32
	Push       []byte
	buffers    map[uint32]boundBuffer
}

func (s *DispatchState) Buffer(binding uint32) (View, error) {
	b, ok := s.buffers[binding]
	if !ok {
		return View{}, errors.Errorf("binding %d is not bound", binding)
	}
	return b.view, nil
}

// Invocations is the total number of threads in the dispatch.
func (s *DispatchState) Invocations() uint64 {
	return uint64(s.GroupCount[0]) * uint64(s.GroupCount[1]) * uint64(s.GroupCount[2]) * uint64(s.GroupSize)
}

// Kernel prepares a dispatch and returns the function executed once per
// invocation. Invocations run concurrently and must only share memory
// through View atomics.
type Kernel func(state *DispatchState) (func(globalID uint32), error)

// Cull bindings, matching shaders/cull.comp.
const (
	CullBindingUniform uint32 = iota
	CullBindingInstances
	CullBindingCommands
	CullBindingStats
	CullBindingVisibility
)

const (
	instanceWords = metadata.InstanceRecordSize / 4
	commandWords  = metadata.DrawCommandSize / 4
)

// CullKernel tests every instance's bounding sphere against the frustum
// planes in the uniform and records the outcome in the draw commands, the
// visibility list and the stats counters.
func CullKernel(state *DispatchState) (func(globalID uint32), error) {
	pc, err := metadata.DecodeCullPushConstants(state.Push)
	if err != nil {
		return nil, err
	}
	views := make([]View, CullBindingVisibility+1)
	for i := range views {
		if views[i], err = state.Buffer(uint32(i)); err != nil {
			return nil, errors.Wrap(err, "cull")
		}
	}
	uniform, instances, commands, stats, visibility := views[0], views[1], views[2], views[3], views[4]

	var planes [math.PlaneCount]mgl32.Vec4
	for p := range planes {
		for c := 0; c < 4; c++ {
			planes[p][c] = uniform.LoadFloat(uint64(16 + p*4 + c))
		}
	}

	total := pc.InstanceCount
	if uint64(total)*instanceWords > instances.Len() {
		return nil, errors.Errorf("cull: %d instances exceed instance buffer of %d words", total, instances.Len())
	}

	return func(id uint32) {
		if id == 0 {
			stats.Store(metadata.CullStatsTotalOffset/4, total)
		}
		if id >= total {
			return
		}
		base := uint64(id) * instanceWords
		center := mgl32.Vec3{instances.LoadFloat(base), instances.LoadFloat(base + 1), instances.LoadFloat(base + 2)}
		radius := instances.LoadFloat(base+3) * pc.MeshRadius

		if math.SphereInsideFrustum(planes, center, radius) {
			stats.Add(metadata.CullStatsVisibleOffset/4, 1)
			if pc.Layout == metadata.CommandLayoutPerInstance {
				commands.Store(uint64(id)*commandWords+1, 1)
				return
			}
			slot := commands.Add(metadata.DrawCommandInstanceCountOffset/4, 1)
			visibility.Store(uint64(slot), id)
			return
		}
		stats.Add(metadata.CullStatsOccludedOffset/4, 1)
		if pc.Layout == metadata.CommandLayoutPerInstance {
			commands.Store(uint64(id)*commandWords+1, 0)
		}
	}, nil
}

// DrawState is what the vertex stage of one indirect draw sees.
type DrawState struct {
	Push    []byte
	Index   View
	dev     *Device
	buffers map[uint32]boundBuffer
}

func (s *DrawState) Buffer(binding uint32) (View, error) {
	b, ok := s.buffers[binding]
	if !ok {
		return View{}, errors.Errorf("binding %d is not bound", binding)
	}
	return b.view, nil
}

// Resolve maps a device address from push constants to the whole buffer.
func (s *DrawState) Resolve(handle uint64) (View, bool) {
	b, ok := s.dev.resolve(handle)
	if !ok || b.released.Load() {
		return View{}, false
	}
	return View{buf: b, count: uint64(len(b.words))}, true
}

// VertexKernel runs the vertex stage of one draw command and returns the
// instance indices it rasterized, in instance order.
type VertexKernel func(state *DrawState, cmd metadata.DrawCommand) ([]uint32, error)

// Mesh bindings, matching shaders/mesh.vert and mesh.frag.
const (
	MeshBindingTexture uint32 = iota
	MeshBindingVertices
	MeshBindingInstances
	MeshBindingVisibility
)

// MeshVertexKernel pulls vertices through the buffer handle in the push
// constants and maps gl_InstanceIndex to an instance record.
func MeshVertexKernel(state *DrawState, cmd metadata.DrawCommand) ([]uint32, error) {
	if cmd.InstanceCount == 0 {
		return nil, nil
	}
	if len(state.Push) < metadata.MeshPushConstantsSize {
		return nil, errors.New("mesh: push constants not set")
	}
	pc := metadata.DecodeMeshPushConstants(state.Push)
	vertices, ok := state.Resolve(pc.VertexBuffer)
	if !ok {
		return nil, errors.Errorf("mesh: vertex buffer handle %#x does not resolve", pc.VertexBuffer)
	}
	instances, err := state.Buffer(MeshBindingInstances)
	if err != nil {
		return nil, err
	}
	visibility, err := state.Buffer(MeshBindingVisibility)
	if err != nil {
		return nil, err
	}

	if uint64(cmd.FirstIndex)+uint64(cmd.IndexCount) > state.Index.Len() {
		return nil, errors.Errorf("mesh: indices [%d, +%d) exceed index buffer", cmd.FirstIndex, cmd.IndexCount)
	}
	vertexCount := vertices.Len() / (metadata.VertexSize / 4)
	for i := uint32(0); i < cmd.IndexCount; i++ {
		v := int64(state.Index.Load(uint64(cmd.FirstIndex+i))) + int64(cmd.VertexOffset)
		if v < 0 || uint64(v) >= vertexCount {
			return nil, errors.Errorf("mesh: vertex %d out of range (%d vertices)", v, vertexCount)
		}
	}

	instanceCount := instances.Len() / instanceWords
	out := make([]uint32, 0, cmd.InstanceCount)
	for i := uint32(0); i < cmd.InstanceCount; i++ {
		idx := cmd.FirstInstance + i
		if pc.Layout == metadata.CommandLayoutMerged {
			idx = visibility.Load(uint64(idx))
		}
		if uint64(idx) >= instanceCount {
			return nil, errors.Errorf("mesh: instance %d out of range (%d instances)", idx, instanceCount)
		}
		out = append(out, idx)
	}
	return out, nil
}
