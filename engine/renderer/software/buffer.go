package software

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/renderer"
)

// Buffer is word addressed: offsets and sizes of host and transfer
// accesses must be multiples of four bytes.
type Buffer struct {
	dev    *Device
	desc   renderer.BufferDesc
	handle uint64
	words  []uint32

	mem      memoryState
	inflight atomic.Int32
	released atomic.Bool
}

func (b *Buffer) Name() string                      { return b.desc.Name }
func (b *Buffer) Size() uint64                      { return b.desc.Size }
func (b *Buffer) Usage() renderer.BufferUsage       { return b.desc.Usage }
func (b *Buffer) Location() renderer.MemoryLocation { return b.desc.Location }
func (b *Buffer) Handle() uint64                    { return b.handle }

func (b *Buffer) Release() {
	if b.released.Swap(true) {
		return
	}
	if b.inflight.Load() > 0 {
		b.dev.recordHazard(Hazard{Kind: HazardHostWriteInFlight, Resource: b.desc.Name, Detail: "released while in flight"})
	}
	b.dev.releaseBuffer(b)
}

func (b *Buffer) checkHostRange(offset, size uint64) error {
	if b.released.Load() {
		return errors.Wrapf(renderer.ErrResourceReleased, "buffer %q", b.desc.Name)
	}
	if b.desc.Location != renderer.MemoryHostVisible {
		return errors.Wrapf(renderer.ErrNotHostVisible, "buffer %q", b.desc.Name)
	}
	return b.checkRange(offset, size)
}

func (b *Buffer) checkRange(offset, size uint64) error {
	if offset%4 != 0 || size%4 != 0 {
		return errors.Wrapf(renderer.ErrInvalidUsage, "buffer %q: unaligned range [%d, +%d)", b.desc.Name, offset, size)
	}
	if offset+size > uint64(len(b.words))*4 {
		return errors.Wrapf(renderer.ErrInvalidUsage, "buffer %q: range [%d, +%d) exceeds %d bytes", b.desc.Name, offset, size, b.desc.Size)
	}
	return nil
}

func (b *Buffer) Write(offset uint64, data []byte) error {
	if err := b.checkHostRange(offset, uint64(len(data))); err != nil {
		return err
	}
	if b.inflight.Load() > 0 {
		b.dev.recordHazard(Hazard{Kind: HazardHostWriteInFlight, Resource: b.desc.Name, Detail: "host write"})
	}
	base := offset / 4
	for i := 0; i < len(data)/4; i++ {
		atomic.StoreUint32(&b.words[base+uint64(i)], binary.LittleEndian.Uint32(data[i*4:]))
	}
	return nil
}

func (b *Buffer) Read(offset, size uint64) ([]byte, error) {
	if err := b.checkHostRange(offset, size); err != nil {
		return nil, err
	}
	if b.inflight.Load() > 0 {
		b.dev.recordHazard(Hazard{Kind: HazardHostReadInFlight, Resource: b.desc.Name, Detail: "host read"})
	}
	b.dev.checkRead(b, renderer.StageHost, renderer.AccessHostRead, "host")

	out := make([]byte, size)
	base := offset / 4
	for i := uint64(0); i < size/4; i++ {
		binary.LittleEndian.PutUint32(out[i*4:], atomic.LoadUint32(&b.words[base+i]))
	}
	return out, nil
}

// View is a kernel's window onto a bound buffer range. Indices are in
// 32-bit words relative to the binding offset.
type View struct {
	buf   *Buffer
	base  uint64
	count uint64
}

func (v View) Len() uint64 { return v.count }

func (v View) word(i uint64) *uint32 {
	if i >= v.count {
		panic(errors.Errorf("buffer %q: word %d out of bounds (%d)", v.buf.desc.Name, i, v.count))
	}
	return &v.buf.words[v.base+i]
}

func (v View) Load(i uint64) uint32       { return atomic.LoadUint32(v.word(i)) }
func (v View) Store(i uint64, val uint32) { atomic.StoreUint32(v.word(i), val) }
func (v View) LoadFloat(i uint64) float32 { return math.Float32frombits(v.Load(i)) }

// Add atomically adds delta and returns the previous value.
func (v View) Add(i uint64, delta uint32) uint32 {
	return atomic.AddUint32(v.word(i), delta) - delta
}
