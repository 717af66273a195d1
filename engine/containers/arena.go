package containers

// Arena is a fixed set of N slots addressed by a monotonically increasing
// frame index modulo N. Slots are allocated once and reused for the
// lifetime of the arena.
type Arena[T any] struct {
	slots []T
}

func NewArena[T any](n int, build func(index int) (T, error)) (*Arena[T], error) {
	a := &Arena[T]{slots: make([]T, 0, n)}
	for i := 0; i < n; i++ {
		s, err := build(i)
		if err != nil {
			return nil, err
		}
		a.slots = append(a.slots, s)
	}
	return a, nil
}

func (a *Arena[T]) Len() int {
	return len(a.slots)
}

// Index maps a frame index to its slot index.
func (a *Arena[T]) Index(frameIndex uint64) int {
	return int(frameIndex % uint64(len(a.slots)))
}

func (a *Arena[T]) At(frameIndex uint64) *T {
	return &a.slots[a.Index(frameIndex)]
}

func (a *Arena[T]) Slot(i int) *T {
	return &a.slots[i]
}

// Each visits every slot in index order.
func (a *Arena[T]) Each(fn func(i int, slot *T)) {
	for i := range a.slots {
		fn(i, &a.slots[i])
	}
}
