package software

import (
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

type bindPoint uint8

const (
	bindCompute bindPoint = iota
	bindGraphics
	bindPointCount
)

type Pipeline struct {
	name      string
	point     bindPoint
	groupSize uint32
	bindings  []renderer.BindingLayout
	pushSize  uint32
	kernel    Kernel
	vertex    VertexKernel
}

func (p *Pipeline) Name() string { return p.name }
func (p *Pipeline) Release()     {}

func pushConstantSize(ranges []renderer.PushConstantRange) uint32 {
	var size uint32
	for _, r := range ranges {
		if end := r.Offset + r.Size; end > size {
			size = end
		}
	}
	return size
}

func (d *Device) CreateComputePipeline(desc renderer.ComputePipelineDesc) (renderer.Pipeline, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	k, ok := d.kernels[desc.Name]
	if !ok {
		return nil, errors.Wrapf(renderer.ErrInitialization, "no kernel registered for compute pipeline %q", desc.Name)
	}
	if desc.GroupSize == 0 || desc.GroupSize > d.caps.MaxComputeWorkGroupSize {
		return nil, errors.Wrapf(renderer.ErrMissingCapability, "workgroup size %d (max %d)", desc.GroupSize, d.caps.MaxComputeWorkGroupSize)
	}
	p := &Pipeline{
		name:      desc.Name,
		point:     bindCompute,
		groupSize: desc.GroupSize,
		bindings:  desc.Bindings,
		pushSize:  pushConstantSize(desc.PushConstants),
		kernel:    k,
	}
	if p.pushSize > d.caps.MaxPushConstantsSize {
		return nil, errors.Wrapf(renderer.ErrMissingCapability, "push constants of %d bytes", p.pushSize)
	}
	return p, nil
}

func (d *Device) CreateGraphicsPipeline(desc renderer.GraphicsPipelineDesc) (renderer.Pipeline, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	vk, ok := d.vertexKernels[desc.Name]
	if !ok {
		return nil, errors.Wrapf(renderer.ErrInitialization, "no vertex kernel registered for graphics pipeline %q", desc.Name)
	}
	if _, ok := desc.Surface.(*Surface); !ok {
		return nil, errors.Wrap(renderer.ErrInvalidUsage, "graphics pipeline needs a software surface")
	}
	p := &Pipeline{
		name:     desc.Name,
		point:    bindGraphics,
		bindings: desc.Bindings,
		pushSize: pushConstantSize(desc.PushConstants),
		vertex:   vk,
	}
	if p.pushSize > d.caps.MaxPushConstantsSize {
		return nil, errors.Wrapf(renderer.ErrMissingCapability, "push constants of %d bytes", p.pushSize)
	}
	return p, nil
}

type boundBuffer struct {
	layout renderer.BindingLayout
	view   View
}

type BindingSet struct {
	pipeline *Pipeline
	buffers  map[uint32]boundBuffer
	textures map[uint32]*Texture
}

func (s *BindingSet) Release() {}

func (d *Device) CreateBindingSet(pipeline renderer.Pipeline, bindings []renderer.Binding) (renderer.BindingSet, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	p, ok := pipeline.(*Pipeline)
	if !ok {
		return nil, errors.Wrap(renderer.ErrInvalidUsage, "foreign pipeline")
	}
	byIndex := make(map[uint32]renderer.Binding, len(bindings))
	for _, b := range bindings {
		byIndex[b.Binding] = b
	}

	set := &BindingSet{
		pipeline: p,
		buffers:  make(map[uint32]boundBuffer),
		textures: make(map[uint32]*Texture),
	}
	for _, layout := range p.bindings {
		b, ok := byIndex[layout.Binding]
		if !ok {
			return nil, errors.Wrapf(renderer.ErrInvalidUsage, "pipeline %q: binding %d not provided", p.name, layout.Binding)
		}
		if layout.Type == renderer.BindingSampledTexture {
			tex, ok := b.Texture.(*Texture)
			if !ok {
				return nil, errors.Wrapf(renderer.ErrInvalidUsage, "pipeline %q: binding %d needs a texture", p.name, layout.Binding)
			}
			set.textures[layout.Binding] = tex
			continue
		}

		buf, ok := b.Buffer.(*Buffer)
		if !ok || buf == nil {
			return nil, errors.Wrapf(renderer.ErrInvalidUsage, "pipeline %q: binding %d needs a buffer", p.name, layout.Binding)
		}
		want := renderer.BufferUsageStorage
		if layout.Type == renderer.BindingUniformBuffer {
			want = renderer.BufferUsageUniform
		}
		if !buf.desc.Usage.Has(want) {
			return nil, errors.Wrapf(renderer.ErrInvalidUsage, "pipeline %q: buffer %q lacks usage for binding %d", p.name, buf.desc.Name, layout.Binding)
		}
		size := b.Size
		if size == 0 {
			size = uint64(len(buf.words))*4 - b.Offset
		}
		if err := buf.checkRange(b.Offset, metadata.GetAligned(size, 4)); err != nil {
			return nil, err
		}
		set.buffers[layout.Binding] = boundBuffer{
			layout: layout,
			view:   View{buf: buf, base: b.Offset / 4, count: size / 4},
		}
	}
	return set, nil
}

type Texture struct {
	width, height uint32
	pixels        []uint8
	sampler       metadata.SamplerConfig
}

func (t *Texture) Width() uint32  { return t.width }
func (t *Texture) Height() uint32 { return t.height }
func (t *Texture) Release()       {}

// Texel returns the RGBA value at (x, y) using repeat addressing.
func (t *Texture) Texel(x, y uint32) [4]uint8 {
	i := ((y%t.height)*t.width + x%t.width) * 4
	return [4]uint8{t.pixels[i], t.pixels[i+1], t.pixels[i+2], t.pixels[i+3]}
}
