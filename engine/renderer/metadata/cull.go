package metadata

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/math"
)

// CullPipelineName names the compute pipeline running shaders/cull.comp.
const CullPipelineName = "cull"

const (
	CullUniformSize       = 64 + 16*math.PlaneCount
	DrawCommandSize       = 20
	CullStatsSize         = 12
	CullPushConstantsSize = 16
	VisibilityEntrySize   = 4
)

// Byte offsets inside a DrawCommand and CullStats record.
const (
	DrawCommandInstanceCountOffset = 4
	CullStatsVisibleOffset         = 0
	CullStatsOccludedOffset        = 4
	CullStatsTotalOffset           = 8
)

// CommandLayout selects how the cull pass communicates with the indirect draw.
type CommandLayout uint32

const (
	// One DrawCommand whose instanceCount is the number of visible
	// instances, fed by a compacted list of visible instance indices.
	CommandLayoutMerged CommandLayout = iota
	// One DrawCommand per instance with instanceCount toggled between 0 and 1.
	CommandLayoutPerInstance
)

func (l CommandLayout) String() string {
	switch l {
	case CommandLayoutMerged:
		return "merged"
	case CommandLayoutPerInstance:
		return "per-instance"
	}
	return fmt.Sprintf("CommandLayout(%d)", uint32(l))
}

func ParseCommandLayout(s string) (CommandLayout, error) {
	switch s {
	case "merged", "":
		return CommandLayoutMerged, nil
	case "per-instance", "per_instance":
		return CommandLayoutPerInstance, nil
	}
	return 0, errors.Errorf("unknown command layout %q", s)
}

// CommandCount is the number of DrawCommand records a layout needs for n instances.
func (l CommandLayout) CommandCount(instanceCount uint32) uint32 {
	if l == CommandLayoutPerInstance {
		return instanceCount
	}
	return 1
}

// CullUniform is the per-frame input of the cull pass.
type CullUniform struct {
	ViewProj      mgl32.Mat4
	FrustumPlanes [math.PlaneCount]mgl32.Vec4
}

func NewCullUniform(viewProj mgl32.Mat4) CullUniform {
	return CullUniform{
		ViewProj:      viewProj,
		FrustumPlanes: math.ExtractFrustumPlanes(viewProj),
	}
}

func (u CullUniform) Bytes() []byte {
	b := make([]byte, CullUniformSize)
	putMat4(b, u.ViewProj)
	for i, p := range u.FrustumPlanes {
		putVec4(b[64+i*16:], p)
	}
	return b
}

func DecodeCullUniform(b []byte) (CullUniform, error) {
	var u CullUniform
	if len(b) < CullUniformSize {
		return u, errors.Errorf("cull uniform needs %d bytes, got %d", CullUniformSize, len(b))
	}
	u.ViewProj = getMat4(b)
	for i := range u.FrustumPlanes {
		u.FrustumPlanes[i] = getVec4(b[64+i*16:])
	}
	return u, nil
}

// DrawCommand matches the hardware indexed-indirect command layout exactly.
type DrawCommand struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	VertexOffset  int32
	FirstInstance uint32
}

func (c DrawCommand) Put(b []byte) {
	le.PutUint32(b[0:], c.IndexCount)
	le.PutUint32(b[4:], c.InstanceCount)
	le.PutUint32(b[8:], c.FirstIndex)
	le.PutUint32(b[12:], uint32(c.VertexOffset))
	le.PutUint32(b[16:], c.FirstInstance)
}

func GetDrawCommand(b []byte) DrawCommand {
	return DrawCommand{
		IndexCount:    le.Uint32(b[0:]),
		InstanceCount: le.Uint32(b[4:]),
		FirstIndex:    le.Uint32(b[8:]),
		VertexOffset:  int32(le.Uint32(b[12:])),
		FirstInstance: le.Uint32(b[16:]),
	}
}

func EncodeDrawCommands(cmds []DrawCommand) []byte {
	out := make([]byte, len(cmds)*DrawCommandSize)
	for i, c := range cmds {
		c.Put(out[i*DrawCommandSize:])
	}
	return out
}

func DecodeDrawCommands(b []byte) ([]DrawCommand, error) {
	if len(b)%DrawCommandSize != 0 {
		return nil, errors.Errorf("draw command data of %d bytes is not a multiple of %d", len(b), DrawCommandSize)
	}
	out := make([]DrawCommand, len(b)/DrawCommandSize)
	for i := range out {
		out[i] = GetDrawCommand(b[i*DrawCommandSize:])
	}
	return out, nil
}

// InitialDrawCommands builds the commands a layout starts from. Only
// InstanceCount changes afterwards, and only on the GPU.
func InitialDrawCommands(layout CommandLayout, mesh MeshRange, instanceCount uint32) []DrawCommand {
	n := layout.CommandCount(instanceCount)
	cmds := make([]DrawCommand, n)
	for i := range cmds {
		cmds[i] = DrawCommand{
			IndexCount:   mesh.IndexCount,
			FirstIndex:   mesh.FirstIndex,
			VertexOffset: mesh.VertexOffset,
		}
		if layout == CommandLayoutPerInstance {
			cmds[i].FirstInstance = uint32(i)
		}
	}
	return cmds
}

// CullStats counts cull outcomes for one frame slot.
type CullStats struct {
	VisibleCount  uint32
	OccludedCount uint32
	TotalCount    uint32
}

func (s CullStats) Bytes() []byte {
	b := make([]byte, CullStatsSize)
	le.PutUint32(b[CullStatsVisibleOffset:], s.VisibleCount)
	le.PutUint32(b[CullStatsOccludedOffset:], s.OccludedCount)
	le.PutUint32(b[CullStatsTotalOffset:], s.TotalCount)
	return b
}

func DecodeCullStats(b []byte) (CullStats, error) {
	if len(b) < CullStatsSize {
		return CullStats{}, errors.Errorf("cull stats need %d bytes, got %d", CullStatsSize, len(b))
	}
	return CullStats{
		VisibleCount:  le.Uint32(b[CullStatsVisibleOffset:]),
		OccludedCount: le.Uint32(b[CullStatsOccludedOffset:]),
		TotalCount:    le.Uint32(b[CullStatsTotalOffset:]),
	}, nil
}

// VisibleRatio is visible/total in percent, 0 for an empty population.
func (s CullStats) VisibleRatio() float64 {
	if s.TotalCount == 0 {
		return 0
	}
	return float64(s.VisibleCount) / float64(s.TotalCount) * 100
}

// CullPushConstants are the per-dispatch constants of the cull pass.
type CullPushConstants struct {
	InstanceCount uint32
	Layout        CommandLayout
	MeshRadius    float32
}

func (p CullPushConstants) Bytes() []byte {
	b := make([]byte, CullPushConstantsSize)
	le.PutUint32(b[0:], p.InstanceCount)
	le.PutUint32(b[4:], uint32(p.Layout))
	putFloat(b[8:], p.MeshRadius)
	return b
}

func DecodeCullPushConstants(b []byte) (CullPushConstants, error) {
	if len(b) < CullPushConstantsSize {
		return CullPushConstants{}, errors.Errorf("cull push constants need %d bytes, got %d", CullPushConstantsSize, len(b))
	}
	return CullPushConstants{
		InstanceCount: le.Uint32(b[0:]),
		Layout:        CommandLayout(le.Uint32(b[4:])),
		MeshRadius:    getFloat(b[8:]),
	}, nil
}
