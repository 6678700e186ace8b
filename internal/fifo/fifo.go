package fifo

// Fifo is a bounded ring buffer. Unlike an unbounded queue, a full
// Fifo refuses new items instead of growing.
type Fifo[T any] struct {
	items []T
	size  int // size of the ring
	head  int // position of next item to write
	tail  int // position of next item to read. tail < 0 => empty ring
}

// New Fifo of the given size
func New[T any](size int) *Fifo[T] {
	return &Fifo[T]{
		items: make([]T, size),
		size:  size,
		head:  0,
		tail:  -1,
	}
}

// Push item at the tail of the queue. Returns false if the ring is full.
func (f *Fifo[T]) Push(item T) bool {
	if f.Full() {
		return false
	}
	f.items[f.head] = item
	if f.tail < 0 {
		f.tail = f.head // no longer empty
	}
	f.head = (f.head + 1) % f.size
	return true
}

// Pop item from the head of the queue
func (f *Fifo[T]) Pop() (item T, ok bool) {
	if f.tail < 0 { // empty ring
		return item, false
	}
	var zero T
	item = f.items[f.tail]
	f.items[f.tail] = zero // do not pin popped items
	f.tail = (f.tail + 1) % f.size
	if f.tail == f.head { // the ring has become empty
		f.tail = -1
	}
	return item, true
}

// Len of the queue
func (f *Fifo[T]) Len() int {
	if f.tail < 0 {
		return 0
	}
	if f.head > f.tail {
		return f.head - f.tail
	}
	return f.head + f.size - f.tail
}

// Full returns true when the ring cannot accept more items
func (f *Fifo[T]) Full() bool {
	return f.tail == f.head
}
