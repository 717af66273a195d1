package systems

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

// GeometryBuffers holds one mesh on the device. Vertices are pulled by the
// vertex shader from a storage buffer; indices go through the index buffer.
type GeometryBuffers struct {
	name     string
	vertices renderer.Buffer
	indices  renderer.Buffer
	mesh     metadata.MeshRange
	radius   float32
}

func NewGeometryBuffers(dev renderer.Device, geo *metadata.GeometryConfig, timeout time.Duration) (*GeometryBuffers, error) {
	if geo == nil || len(geo.Vertices) == 0 || len(geo.Indices) == 0 {
		return nil, errors.Wrap(renderer.ErrInitialization, "geometry has no vertices or indices")
	}
	if len(geo.Indices)%3 != 0 {
		return nil, errors.Wrapf(renderer.ErrInitialization, "geometry %q: %d indices is not a triangle list", geo.Name, len(geo.Indices))
	}
	radius := geo.Radius
	if radius <= 0 {
		radius = metadata.BoundingRadius(geo.Vertices)
	}

	vertices, err := UploadBuffer(dev, renderer.BufferDesc{
		Name:  fmt.Sprintf("%s.vertices", geo.Name),
		Usage: renderer.BufferUsageStorage,
	}, geo.VertexBytes(), timeout)
	if err != nil {
		return nil, errors.Wrap(err, "geometry")
	}
	indices, err := UploadBuffer(dev, renderer.BufferDesc{
		Name:  fmt.Sprintf("%s.indices", geo.Name),
		Usage: renderer.BufferUsageIndex,
	}, geo.IndexBytes(), timeout)
	if err != nil {
		vertices.Release()
		return nil, errors.Wrap(err, "geometry")
	}

	core.LogDebug("geometry %q: %d vertices, %d indices, radius %.3f", geo.Name, len(geo.Vertices), len(geo.Indices), radius)
	return &GeometryBuffers{
		name:     geo.Name,
		vertices: vertices,
		indices:  indices,
		mesh:     geo.Range(),
		radius:   radius,
	}, nil
}

func (g *GeometryBuffers) Name() string              { return g.name }
func (g *GeometryBuffers) Vertices() renderer.Buffer { return g.vertices }
func (g *GeometryBuffers) Indices() renderer.Buffer  { return g.indices }
func (g *GeometryBuffers) Mesh() metadata.MeshRange  { return g.mesh }
func (g *GeometryBuffers) Radius() float32           { return g.radius }

func (g *GeometryBuffers) Release() {
	g.indices.Release()
	g.vertices.Release()
}
