package pipeline

// ring is a fixed-capacity FIFO of float64 samples. Pushing onto a full ring
// evicts the oldest sample.
type ring struct {
	buf   []float64
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]float64, capacity)}
}

func (r *ring) Len() int { return r.size }

func (r *ring) Cap() int { return len(r.buf) }

func (r *ring) Push(v float64) {
	if len(r.buf) == 0 {
		return
	}
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// At returns the i-th sample, oldest first.
func (r *ring) At(i int) float64 {
	return r.buf[(r.start+i)%len(r.buf)]
}

// Values returns the samples oldest first.
func (r *ring) Values() []float64 {
	out := make([]float64, r.size)
	for i := range out {
		out[i] = r.At(i)
	}
	return out
}

// Resize returns a ring of the new capacity holding the most recent samples.
func (r *ring) Resize(capacity int) *ring {
	next := newRing(capacity)
	vals := r.Values()
	if len(vals) > capacity {
		vals = vals[len(vals)-capacity:]
	}
	for _, v := range vals {
		next.Push(v)
	}
	return next
}
