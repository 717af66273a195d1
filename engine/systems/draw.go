package systems

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/containers"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

// Mesh bindings, matching shaders/mesh.vert and mesh.frag.
const (
	meshBindingTexture uint32 = iota
	meshBindingVertices
	meshBindingInstances
	meshBindingVisibility
)

type IndirectDrawStageConfig struct {
	VertexShader   []byte
	FragmentShader []byte
	Texture        *metadata.TextureData
	Sampler        metadata.SamplerConfig
	ClearColor     mgl32.Vec4
}

// IndirectDrawStage draws every instance the cull pass kept with a single
// indexed indirect draw. The host never iterates instances.
type IndirectDrawStage struct {
	pipeline renderer.Pipeline
	texture  renderer.Texture
	geometry *GeometryBuffers
	cull     *CullStage
	sets     *containers.Arena[renderer.BindingSet]
	clear    mgl32.Vec4
	world    mgl32.Mat4
	scope    *renderer.Scope
}

func NewIndirectDrawStage(dev renderer.Device, surface renderer.Surface, cfg IndirectDrawStageConfig, geometry *GeometryBuffers, instances *InstanceStore, cull *CullStage) (*IndirectDrawStage, error) {
	ds := &IndirectDrawStage{
		geometry: geometry,
		cull:     cull,
		clear:    cfg.ClearColor,
		world:    mgl32.Ident4(),
		scope:    renderer.NewScope(),
	}

	texData := cfg.Texture
	if texData == nil {
		texData = metadata.CheckerTexture(64, 8)
	}
	texture, err := dev.CreateTexture(texData, cfg.Sampler)
	if err := ds.scope.Add(texture, err); err != nil {
		ds.scope.Release()
		return nil, errors.Wrapf(err, "texture %q", texData.Name)
	}
	ds.texture = texture

	pipeline, err := dev.CreateGraphicsPipeline(renderer.GraphicsPipelineDesc{
		Name:           metadata.MeshPipelineName,
		VertexShader:   cfg.VertexShader,
		FragmentShader: cfg.FragmentShader,
		EntryPoint:     "main",
		Bindings: []renderer.BindingLayout{
			{Binding: meshBindingTexture, Type: renderer.BindingSampledTexture, Stages: renderer.ShaderStageFragment},
			{Binding: meshBindingVertices, Type: renderer.BindingStorageBuffer, Stages: renderer.ShaderStageVertex, Access: renderer.BindingReadOnly},
			{Binding: meshBindingInstances, Type: renderer.BindingStorageBuffer, Stages: renderer.ShaderStageVertex, Access: renderer.BindingReadOnly},
			{Binding: meshBindingVisibility, Type: renderer.BindingStorageBuffer, Stages: renderer.ShaderStageVertex, Access: renderer.BindingReadOnly},
		},
		PushConstants: []renderer.PushConstantRange{
			{Stages: renderer.ShaderStageVertex, Offset: 0, Size: metadata.MeshPushConstantsSize},
		},
		Surface: surface,
	})
	if err := ds.scope.Add(pipeline, err); err != nil {
		ds.scope.Release()
		return nil, errors.Wrap(err, "mesh pipeline")
	}
	ds.pipeline = pipeline

	sets, err := containers.NewArena(cull.Slots(), func(i int) (renderer.BindingSet, error) {
		set, err := dev.CreateBindingSet(pipeline, []renderer.Binding{
			{Binding: meshBindingTexture, Texture: texture},
			{Binding: meshBindingVertices, Buffer: geometry.Vertices()},
			{Binding: meshBindingInstances, Buffer: instances.Buffer()},
			{Binding: meshBindingVisibility, Buffer: cull.Visibility(uint64(i))},
		})
		if err := ds.scope.Add(set, err); err != nil {
			return nil, errors.Wrapf(err, "draw set %d", i)
		}
		return set, nil
	})
	if err != nil {
		ds.scope.Release()
		return nil, err
	}
	ds.sets = sets

	core.LogDebug("indirect draw stage: %d commands per draw", cull.CommandCount())
	return ds, nil
}

// SetWorld sets the world matrix pushed with every draw.
func (ds *IndirectDrawStage) SetWorld(m mgl32.Mat4) {
	ds.world = m
}

// Record records the render pass drawing the slot's cull results into
// target, which must be in the color attachment layout.
func (ds *IndirectDrawStage) Record(cmd renderer.CommandSequence, frameIndex uint64, target renderer.RenderTarget, viewProj mgl32.Mat4) {
	push := metadata.MeshPushConstants{
		RenderMatrix: viewProj.Mul4(ds.world),
		VertexBuffer: ds.geometry.Vertices().Handle(),
		Layout:       ds.cull.Layout(),
	}

	cmd.BeginRenderPass(target, ds.clear)
	cmd.BindPipeline(ds.pipeline)
	cmd.BindSet(ds.pipeline, *ds.sets.At(frameIndex))
	cmd.BindIndexBuffer(ds.geometry.Indices(), 0)
	cmd.PushConstants(ds.pipeline, renderer.ShaderStageVertex, 0, push.Bytes())
	cmd.DrawIndexedIndirect(ds.cull.Commands(frameIndex), 0, ds.cull.CommandCount(), metadata.DrawCommandSize)
	cmd.EndRenderPass()
}

func (ds *IndirectDrawStage) Release() {
	ds.scope.Release()
}
