package metadata

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type MemoryRange struct {
	Offset uint64
	Size   uint64
}

func GetAlignedRange(offset, size, granularity uint64) MemoryRange {
	return MemoryRange{
		Offset: GetAligned(offset, granularity),
		Size:   GetAligned(size, granularity),
	}
}

// GetAligned rounds operand up to a multiple of granularity, which must be a power of two.
func GetAligned(operand, granularity uint64) uint64 {
	return (operand + (granularity - 1)) &^ (granularity - 1)
}

var le = binary.LittleEndian

func putFloat(b []byte, v float32) {
	le.PutUint32(b, math.Float32bits(v))
}

func getFloat(b []byte) float32 {
	return math.Float32frombits(le.Uint32(b))
}

func putVec3(b []byte, v mgl32.Vec3) {
	for i := 0; i < 3; i++ {
		putFloat(b[i*4:], v[i])
	}
}

func getVec3(b []byte) mgl32.Vec3 {
	return mgl32.Vec3{getFloat(b), getFloat(b[4:]), getFloat(b[8:])}
}

func putVec4(b []byte, v mgl32.Vec4) {
	for i := 0; i < 4; i++ {
		putFloat(b[i*4:], v[i])
	}
}

func getVec4(b []byte) mgl32.Vec4 {
	return mgl32.Vec4{getFloat(b), getFloat(b[4:]), getFloat(b[8:]), getFloat(b[12:])}
}

// Column-major, as GLSL expects.
func putMat4(b []byte, m mgl32.Mat4) {
	for i := 0; i < 16; i++ {
		putFloat(b[i*4:], m[i])
	}
}

func getMat4(b []byte) mgl32.Mat4 {
	var m mgl32.Mat4
	for i := 0; i < 16; i++ {
		m[i] = getFloat(b[i*4:])
	}
	return m
}
