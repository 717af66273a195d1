package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueue(t *testing.T) {
	rq := NewRingQueue[int](3)
	require.True(t, rq.IsEmpty())

	for i := 1; i <= 3; i++ {
		require.NoError(t, rq.Enqueue(i))
	}
	assert.ErrorIs(t, rq.Enqueue(4), ErrQueueFull)

	v, err := rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	rq.Push(4)
	rq.Push(5)
	assert.Equal(t, []int{3, 4, 5}, rq.Items())

	head, err := rq.Peek()
	require.NoError(t, err)
	assert.Equal(t, 3, head)
}

func TestArenaAddressesByModulo(t *testing.T) {
	a, err := NewArena(3, func(i int) (int, error) { return i * 10, nil })
	require.NoError(t, err)
	require.Equal(t, 3, a.Len())

	for frame := uint64(0); frame < 9; frame++ {
		assert.Equal(t, int(frame%3)*10, *a.At(frame))
	}

	*a.At(4) = 99
	assert.Equal(t, 99, *a.Slot(1))
}
