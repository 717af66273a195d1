package renderer

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeReleasesInReverseOrder(t *testing.T) {
	var order []int
	s := NewScope()
	for i := 0; i < 3; i++ {
		i := i
		s.Track(ReleaseFunc(func() { order = append(order, i) }))
	}
	child := s.Child()
	child.Track(ReleaseFunc(func() { order = append(order, 10) }))

	s.Release()
	assert.Equal(t, []int{10, 2, 1, 0}, order)

	// Tracking into a released scope releases immediately.
	s.Track(ReleaseFunc(func() { order = append(order, 99) }))
	assert.Equal(t, 99, order[len(order)-1])

	s.Release()
	assert.Len(t, order, 5)
}

func TestAddSkipsFailedCreation(t *testing.T) {
	s := NewScope()
	released := false
	err := s.Add(ReleaseFunc(func() { released = true }), errors.New("boom"))
	require.Error(t, err)
	assert.Equal(t, 0, s.Len())
	s.Release()
	assert.False(t, released)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsRecoverable(errors.Wrap(ErrSurfaceOutOfDate, "acquire")))
	assert.True(t, IsRecoverable(ErrSurfaceSuboptimal))
	assert.False(t, IsFatal(ErrSurfaceSuboptimal))
	assert.True(t, IsFatal(errors.Wrap(ErrDeviceLost, "fence wait")))
	assert.True(t, IsFatal(ErrOutOfDeviceMemory))
	assert.False(t, IsFatal(nil))
}

func TestParseRendererType(t *testing.T) {
	rt, err := ParseRendererType("software")
	require.NoError(t, err)
	assert.Equal(t, Software, rt)

	rt, err = ParseRendererType("")
	require.NoError(t, err)
	assert.Equal(t, Vulkan, rt)

	_, err = ParseRendererType("metal")
	assert.Error(t, err)
}
