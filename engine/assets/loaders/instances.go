package loaders

import (
	"os"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

type instanceFile struct {
	Defaults struct {
		Scale float32 `toml:"scale"`
	} `toml:"defaults"`
	Instances []struct {
		Position [3]float32 `toml:"position"`
		Scale    *float32   `toml:"scale"`
	} `toml:"instance"`
}

// InstanceLoader reads instance sets written as
//
//	[[instance]]
//	position = [0.0, 1.0, -4.0]
//	scale = 0.5
type InstanceLoader struct{}

func (il *InstanceLoader) Load(path string) ([]metadata.InstanceRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading instances %s", path)
	}
	records, err := ParseInstances(data)
	if err != nil {
		return nil, errors.Wrapf(err, "instances %s", path)
	}
	return records, nil
}

func ParseInstances(data []byte) ([]metadata.InstanceRecord, error) {
	var f instanceFile
	f.Defaults.Scale = 1
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	out := make([]metadata.InstanceRecord, len(f.Instances))
	for i, in := range f.Instances {
		scale := f.Defaults.Scale
		if in.Scale != nil {
			scale = *in.Scale
		}
		if scale < 0 {
			return nil, errors.Errorf("instance %d has negative scale %g", i, scale)
		}
		out[i] = metadata.InstanceRecord{
			Position: mgl32.Vec3{in.Position[0], in.Position[1], in.Position[2]},
			Scale:    scale,
		}
	}
	return out, nil
}
