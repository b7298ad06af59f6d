package retry

import "github.com/vietddude/txguard/internal/core/domain"

// deque is a growable ring buffer of tasks. Not safe for concurrent use; Queue guards it.
type deque struct {
	buf  []*domain.RetryTask
	head int
	size int
}

func (d *deque) Len() int { return d.size }

func (d *deque) PushBack(t *domain.RetryTask) {
	d.grow()
	d.buf[(d.head+d.size)%len(d.buf)] = t
	d.size++
}

func (d *deque) PushFront(t *domain.RetryTask) {
	d.grow()
	d.head = (d.head - 1 + len(d.buf)) % len(d.buf)
	d.buf[d.head] = t
	d.size++
}

func (d *deque) PopFront() (*domain.RetryTask, bool) {
	if d.size == 0 {
		return nil, false
	}
	t := d.buf[d.head]
	d.buf[d.head] = nil
	d.head = (d.head + 1) % len(d.buf)
	d.size--
	return t, true
}

func (d *deque) grow() {
	if d.size < len(d.buf) {
		return
	}
	n := len(d.buf) * 2
	if n == 0 {
		n = 16
	}
	buf := make([]*domain.RetryTask, n)
	for i := range d.size {
		buf[i] = d.buf[(d.head+i)%len(d.buf)]
	}
	d.buf = buf
	d.head = 0
}
