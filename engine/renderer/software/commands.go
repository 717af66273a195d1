package software

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
	"golang.org/x/sync/errgroup"
)

type sequenceState uint8

const (
	stateInitial sequenceState = iota
	stateRecording
	stateExecutable
	statePending
)

type command struct {
	name string
	run  func(ex *executor) error
}

// CommandSequence records commands as closures replayed by the queue
// goroutine. Binding state is resolved at execution, as on hardware.
type CommandSequence struct {
	dev *Device

	mu       sync.Mutex
	state    sequenceState
	commands []command
	refs     map[*Buffer]struct{}
	err      error

	// record-time validation only
	inPass   bool
	bound    [bindPointCount]*Pipeline
	released bool
}

func (cs *CommandSequence) Reset() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.state == statePending {
		cs.dev.recordHazard(Hazard{Kind: HazardCommandSequenceInUse, Resource: "command sequence", Detail: "reset while pending"})
		return errors.Wrap(renderer.ErrInvalidUsage, "command sequence reset while pending")
	}
	cs.clear()
	cs.state = stateInitial
	return nil
}

func (cs *CommandSequence) clear() {
	cs.commands = cs.commands[:0]
	cs.refs = make(map[*Buffer]struct{})
	cs.err = nil
	cs.inPass = false
	cs.bound = [bindPointCount]*Pipeline{}
}

func (cs *CommandSequence) Begin() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	switch cs.state {
	case statePending:
		cs.dev.recordHazard(Hazard{Kind: HazardCommandSequenceInUse, Resource: "command sequence", Detail: "begin while pending"})
		return errors.Wrap(renderer.ErrInvalidUsage, "command sequence begin while pending")
	case stateRecording:
		return errors.Wrap(renderer.ErrInvalidUsage, "command sequence already recording")
	}
	if cs.released {
		return errors.Wrap(renderer.ErrResourceReleased, "command sequence")
	}
	cs.clear()
	cs.state = stateRecording
	return nil
}

func (cs *CommandSequence) End() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.state != stateRecording {
		return errors.Wrap(renderer.ErrInvalidUsage, "command sequence is not recording")
	}
	if cs.inPass && cs.err == nil {
		cs.err = errors.Wrap(renderer.ErrInvalidUsage, "render pass not ended")
	}
	if cs.err != nil {
		cs.state = stateInitial
		return cs.err
	}
	cs.state = stateExecutable
	return nil
}

func (cs *CommandSequence) Release() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.state == statePending {
		cs.dev.recordHazard(Hazard{Kind: HazardCommandSequenceInUse, Resource: "command sequence", Detail: "released while pending"})
	}
	cs.released = true
}

func (cs *CommandSequence) markPending() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	switch cs.state {
	case stateExecutable:
		cs.state = statePending
		return nil
	case statePending:
		cs.dev.recordHazard(Hazard{Kind: HazardCommandSequenceInUse, Resource: "command sequence", Detail: "submitted while pending"})
		return errors.Wrap(renderer.ErrInvalidUsage, "command sequence submitted while pending")
	}
	return errors.Wrap(renderer.ErrInvalidUsage, "command sequence submitted before End")
}

func (cs *CommandSequence) markComplete() {
	cs.mu.Lock()
	refs := cs.refs
	cs.state = stateExecutable
	cs.mu.Unlock()
	for b := range refs {
		b.inflight.Add(-1)
	}
}

func (cs *CommandSequence) fail(format string, args ...interface{}) {
	if cs.err == nil {
		cs.err = errors.Wrapf(renderer.ErrInvalidUsage, format, args...)
	}
}

// add appends a command. Callers hold cs.mu.
func (cs *CommandSequence) add(name string, run func(ex *executor) error, refs ...*Buffer) {
	if cs.state != stateRecording {
		cs.fail("%s recorded outside Begin/End", name)
		return
	}
	for _, b := range refs {
		if b.released.Load() {
			cs.fail("%s uses released buffer %q", name, b.desc.Name)
			return
		}
		cs.refs[b] = struct{}{}
	}
	cs.commands = append(cs.commands, command{name: name, run: run})
}

func (cs *CommandSequence) buffer(name string, b renderer.Buffer, usage renderer.BufferUsage) *Buffer {
	buf, ok := b.(*Buffer)
	if !ok || buf == nil {
		cs.fail("%s: not a software buffer", name)
		return nil
	}
	if !buf.desc.Usage.Has(usage) {
		cs.fail("%s: buffer %q lacks required usage", name, buf.desc.Name)
		return nil
	}
	return buf
}

func (cs *CommandSequence) FillBuffer(dst renderer.Buffer, offset, size uint64, value uint32) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	b := cs.buffer("fill", dst, renderer.BufferUsageTransferDst)
	if b == nil {
		return
	}
	if err := b.checkRange(offset, size); err != nil {
		cs.fail("fill: %s", err)
		return
	}
	name := fmt.Sprintf("fill %s", b.desc.Name)
	cs.add(name, func(ex *executor) error {
		v := View{buf: b, count: uint64(len(b.words))}
		for i := offset / 4; i < (offset+size)/4; i++ {
			v.Store(i, value)
		}
		b.mem.write(renderer.StageTransfer, renderer.AccessTransferWrite, name)
		return nil
	}, b)
}

func (cs *CommandSequence) CopyBuffer(src, dst renderer.Buffer, srcOffset, dstOffset, size uint64) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	s := cs.buffer("copy", src, renderer.BufferUsageTransferSrc)
	d := cs.buffer("copy", dst, renderer.BufferUsageTransferDst)
	if s == nil || d == nil {
		return
	}
	if err := s.checkRange(srcOffset, size); err != nil {
		cs.fail("copy: %s", err)
		return
	}
	if err := d.checkRange(dstOffset, size); err != nil {
		cs.fail("copy: %s", err)
		return
	}
	name := fmt.Sprintf("copy %s -> %s", s.desc.Name, d.desc.Name)
	cs.add(name, func(ex *executor) error {
		ex.dev.checkRead(s, renderer.StageTransfer, renderer.AccessTransferRead, name)
		sv := View{buf: s, count: uint64(len(s.words))}
		dv := View{buf: d, count: uint64(len(d.words))}
		for i := uint64(0); i < size/4; i++ {
			dv.Store(dstOffset/4+i, sv.Load(srcOffset/4+i))
		}
		d.mem.write(renderer.StageTransfer, renderer.AccessTransferWrite, name)
		return nil
	}, s, d)
}

func (cs *CommandSequence) PipelineBarrier(barrier renderer.MemoryBarrier) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.add("barrier", func(ex *executor) error {
		ex.dev.applyBarrier(barrier)
		return nil
	})
}

func (cs *CommandSequence) TransitionImage(target renderer.RenderTarget, from, to renderer.ImageLayout) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	t, ok := target.(*renderTarget)
	if !ok {
		cs.fail("transition: not a software render target")
		return
	}
	cs.add("transition", func(ex *executor) error {
		t.transition(ex.dev, from, to)
		return nil
	})
}

func (cs *CommandSequence) BindPipeline(pipeline renderer.Pipeline) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	p, ok := pipeline.(*Pipeline)
	if !ok {
		cs.fail("bind pipeline: foreign pipeline")
		return
	}
	cs.bound[p.point] = p
	cs.add("bind "+p.name, func(ex *executor) error {
		ex.pipelines[p.point] = p
		return nil
	})
}

func (cs *CommandSequence) BindSet(pipeline renderer.Pipeline, set renderer.BindingSet) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	p, ok := pipeline.(*Pipeline)
	s, ok2 := set.(*BindingSet)
	if !ok || !ok2 {
		cs.fail("bind set: foreign object")
		return
	}
	refs := make([]*Buffer, 0, len(s.buffers))
	for _, b := range s.buffers {
		refs = append(refs, b.view.buf)
	}
	cs.add("bind set "+p.name, func(ex *executor) error {
		ex.sets[p.point] = s
		return nil
	}, refs...)
}

func (cs *CommandSequence) PushConstants(pipeline renderer.Pipeline, stages renderer.ShaderStage, offset uint32, data []byte) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	p, ok := pipeline.(*Pipeline)
	if !ok {
		cs.fail("push constants: foreign pipeline")
		return
	}
	if offset+uint32(len(data)) > p.pushSize {
		cs.fail("push constants: [%d, +%d) outside the %d bytes of %q", offset, len(data), p.pushSize, p.name)
		return
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	cs.add("push constants", func(ex *executor) error {
		copy(ex.push[p.point][offset:], payload)
		return nil
	})
}

func (cs *CommandSequence) Dispatch(x, y, z uint32) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.inPass {
		cs.fail("dispatch inside a render pass")
		return
	}
	if cs.bound[bindCompute] == nil {
		cs.fail("dispatch without a compute pipeline")
		return
	}
	cs.add("dispatch", func(ex *executor) error {
		return ex.dispatch(x, y, z)
	})
}

func (cs *CommandSequence) BeginRenderPass(target renderer.RenderTarget, clear mgl32.Vec4) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	t, ok := target.(*renderTarget)
	if !ok {
		cs.fail("render pass: not a software render target")
		return
	}
	if cs.inPass {
		cs.fail("render pass already begun")
		return
	}
	cs.inPass = true
	cs.add("begin render pass", func(ex *executor) error {
		t.beginPass(ex.dev, clear)
		ex.target = t
		return nil
	})
}

func (cs *CommandSequence) EndRenderPass() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.inPass {
		cs.fail("end render pass without begin")
		return
	}
	cs.inPass = false
	cs.add("end render pass", func(ex *executor) error {
		ex.target = nil
		return nil
	})
}

func (cs *CommandSequence) BindIndexBuffer(buffer renderer.Buffer, offset uint64) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	b := cs.buffer("bind index buffer", buffer, renderer.BufferUsageIndex)
	if b == nil {
		return
	}
	cs.add("bind index buffer", func(ex *executor) error {
		ex.index = View{buf: b, base: offset / 4, count: uint64(len(b.words)) - offset/4}
		return nil
	}, b)
}

func (cs *CommandSequence) DrawIndexedIndirect(buffer renderer.Buffer, offset uint64, drawCount, stride uint32) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.inPass {
		cs.fail("indirect draw outside a render pass")
		return
	}
	if cs.bound[bindGraphics] == nil {
		cs.fail("indirect draw without a graphics pipeline")
		return
	}
	b := cs.buffer("indirect draw", buffer, renderer.BufferUsageIndirect)
	if b == nil {
		return
	}
	if drawCount > 1 && !cs.dev.caps.MultiDrawIndirect {
		cs.fail("indirect draw count %d without multiDrawIndirect", drawCount)
		return
	}
	if stride < metadata.DrawCommandSize || stride%4 != 0 {
		cs.fail("indirect draw stride %d", stride)
		return
	}
	cs.add("draw indexed indirect", func(ex *executor) error {
		return ex.drawIndirect(b, offset, drawCount, stride)
	}, b)
}

// executor holds the binding state of one submission while it replays.
type executor struct {
	dev       *Device
	pipelines [bindPointCount]*Pipeline
	sets      [bindPointCount]*BindingSet
	push      [bindPointCount][]byte
	index     View
	target    *renderTarget
}

func (cs *CommandSequence) execute() error {
	cs.mu.Lock()
	commands := cs.commands
	cs.mu.Unlock()

	ex := &executor{dev: cs.dev}
	for i := range ex.push {
		ex.push[i] = make([]byte, cs.dev.caps.MaxPushConstantsSize)
	}
	for _, c := range commands {
		if err := c.run(ex); err != nil {
			return errors.Wrap(err, c.name)
		}
	}
	return nil
}

func (ex *executor) checkSetReads(set *BindingSet, stage renderer.PipelineStage, by string) {
	for _, b := range set.buffers {
		switch {
		case b.layout.Type == renderer.BindingUniformBuffer:
			ex.dev.checkRead(b.view.buf, stage, renderer.AccessUniformRead, by)
		case b.layout.Access != renderer.BindingWriteOnly:
			ex.dev.checkRead(b.view.buf, stage, renderer.AccessShaderRead, by)
		}
	}
}

func (ex *executor) dispatch(x, y, z uint32) (err error) {
	p := ex.pipelines[bindCompute]
	set := ex.sets[bindCompute]
	if set == nil || set.pipeline != p {
		return errors.Errorf("dispatch of %q without its binding set", p.name)
	}
	by := "dispatch " + p.name
	ex.checkSetReads(set, renderer.StageComputeShader, by)

	state := &DispatchState{
		GroupCount: [3]uint32{x, y, z},
		GroupSize:  p.groupSize,
		Push:       ex.push[bindCompute],
		buffers:    set.buffers,
	}
	invoke, err := p.kernel(state)
	if err != nil {
		return err
	}

	groups := uint64(x) * uint64(y) * uint64(z)
	eg, ctx := errgroup.WithContext(context.Background())
	eg.SetLimit(ex.dev.parallel)
	for g := uint64(0); g < groups; g++ {
		base := uint32(g) * p.groupSize
		eg.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.Errorf("%s: invocation fault: %v", by, r)
				}
			}()
			if ctx.Err() != nil {
				return nil
			}
			for l := uint32(0); l < p.groupSize; l++ {
				invoke(base + l)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for _, b := range set.buffers {
		if b.layout.Type == renderer.BindingStorageBuffer && b.layout.Access != renderer.BindingReadOnly {
			b.view.buf.mem.write(renderer.StageComputeShader, renderer.AccessShaderWrite, by)
		}
	}
	return nil
}

// DrawRecord describes one executed indirect draw.
type DrawRecord struct {
	Target       uint32
	Pipeline     string
	CommandCount uint32
	// Commands with a non-zero instance count.
	ActiveCommands uint32
	IndexCount     uint32
	// Instance indices rasterized, in draw order.
	Instances []uint32
}

func (ex *executor) drawIndirect(b *Buffer, offset uint64, drawCount, stride uint32) error {
	p := ex.pipelines[bindGraphics]
	set := ex.sets[bindGraphics]
	if set == nil || set.pipeline != p {
		return errors.Errorf("draw with %q without its binding set", p.name)
	}
	if ex.index.buf == nil {
		return errors.New("indexed draw without an index buffer")
	}
	by := "draw " + p.name
	ex.dev.checkRead(b, renderer.StageDrawIndirect, renderer.AccessIndirectCommandRead, by)
	ex.dev.checkRead(ex.index.buf, renderer.StageVertexInput, renderer.AccessIndexRead, by)
	ex.checkSetReads(set, renderer.StageVertexShader, by)

	if offset%4 != 0 {
		return errors.Errorf("indirect draw offset %d is unaligned", offset)
	}
	if drawCount > 0 {
		end := offset + uint64(drawCount-1)*uint64(stride) + metadata.DrawCommandSize
		if end > uint64(len(b.words))*4 {
			return errors.Errorf("indirect draw of %d commands exceeds buffer %q", drawCount, b.desc.Name)
		}
	}

	state := &DrawState{
		Push:    ex.push[bindGraphics],
		Index:   ex.index,
		dev:     ex.dev,
		buffers: set.buffers,
	}
	record := DrawRecord{Target: ex.target.index, Pipeline: p.name, CommandCount: drawCount}
	v := View{buf: b, count: uint64(len(b.words))}
	for i := uint32(0); i < drawCount; i++ {
		w := (offset + uint64(i)*uint64(stride)) / 4
		cmd := metadata.DrawCommand{
			IndexCount:    v.Load(w),
			InstanceCount: v.Load(w + 1),
			FirstIndex:    v.Load(w + 2),
			VertexOffset:  int32(v.Load(w + 3)),
			FirstInstance: v.Load(w + 4),
		}
		if cmd.FirstInstance != 0 && !ex.dev.caps.DrawIndirectFirstInstance {
			return errors.New("non-zero firstInstance without drawIndirectFirstInstance")
		}
		instances, err := p.vertex(state, cmd)
		if err != nil {
			return err
		}
		if cmd.InstanceCount > 0 {
			record.ActiveCommands++
			record.IndexCount = cmd.IndexCount
		}
		record.Instances = append(record.Instances, instances...)
	}
	ex.dev.recordDraw(record)
	return nil
}
