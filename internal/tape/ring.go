package tape

// Ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
type Ring[T any] struct {
	buf  []T
	head int
	n    int
}

// NewRing allocates a ring holding at most capacity items.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest item when full.
func (r *Ring[T]) Push(v T) {
	idx := (r.head + r.n) % len(r.buf)
	r.buf[idx] = v
	if r.n < len(r.buf) {
		r.n++
		return
	}
	r.head = (r.head + 1) % len(r.buf)
}

// Len is the number of stored items.
func (r *Ring[T]) Len() int { return r.n }

// Cap is the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Items copies the contents oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Last returns the newest item.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	return r.buf[(r.head+r.n-1)%len(r.buf)], true
}
