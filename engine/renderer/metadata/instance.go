package metadata

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
)

// InstanceRecordSize is the std430 stride of one instance: vec3 + float.
const InstanceRecordSize = 16

// InstanceRecord is one renderable object. It has no identity beyond its
// index in the instance array.
type InstanceRecord struct {
	Position mgl32.Vec3
	Scale    float32
}

// Radius of the instance's culling sphere for a mesh of the given bounding radius.
func (r InstanceRecord) Radius(meshRadius float32) float32 {
	return r.Scale * meshRadius
}

func (r InstanceRecord) Put(b []byte) {
	putVec3(b, r.Position)
	putFloat(b[12:], r.Scale)
}

func GetInstanceRecord(b []byte) InstanceRecord {
	return InstanceRecord{Position: getVec3(b), Scale: getFloat(b[12:])}
}

func EncodeInstances(records []InstanceRecord) []byte {
	out := make([]byte, len(records)*InstanceRecordSize)
	for i, r := range records {
		r.Put(out[i*InstanceRecordSize:])
	}
	return out
}

func DecodeInstances(b []byte) ([]InstanceRecord, error) {
	if len(b)%InstanceRecordSize != 0 {
		return nil, errors.Errorf("instance data of %d bytes is not a multiple of %d", len(b), InstanceRecordSize)
	}
	out := make([]InstanceRecord, len(b)/InstanceRecordSize)
	for i := range out {
		out[i] = GetInstanceRecord(b[i*InstanceRecordSize:])
	}
	return out, nil
}

// GridConfig describes an axis-aligned lattice of instances centred on Origin.
type GridConfig struct {
	CountX, CountY, CountZ uint32
	Spacing                float32
	Scale                  float32
	Origin                 mgl32.Vec3
}

// Grid lays instances out X fastest, then Y, then Z.
func Grid(cfg GridConfig) []InstanceRecord {
	total := int(cfg.CountX) * int(cfg.CountY) * int(cfg.CountZ)
	out := make([]InstanceRecord, 0, total)
	half := mgl32.Vec3{
		float32(cfg.CountX-1) * cfg.Spacing / 2,
		float32(cfg.CountY-1) * cfg.Spacing / 2,
		float32(cfg.CountZ-1) * cfg.Spacing / 2,
	}
	if total == 0 {
		return out
	}
	for z := uint32(0); z < cfg.CountZ; z++ {
		for y := uint32(0); y < cfg.CountY; y++ {
			for x := uint32(0); x < cfg.CountX; x++ {
				p := mgl32.Vec3{float32(x) * cfg.Spacing, float32(y) * cfg.Spacing, float32(z) * cfg.Spacing}
				out = append(out, InstanceRecord{
					Position: p.Sub(half).Add(cfg.Origin),
					Scale:    cfg.Scale,
				})
			}
		}
	}
	return out
}
