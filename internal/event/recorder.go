package event

// Recorder collects domain events emitted while a command is applied. It is
// journaled like the ledger so a rolled back operation leaves no events behind.
type Recorder struct {
	pending []Emitted
	marks   []int
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(e Emitted) {
	r.pending = append(r.pending, e)
}

// Pending returns the events recorded so far without draining them.
func (r *Recorder) Pending() []Emitted {
	return r.pending
}

// Drain hands over everything recorded since the last drain.
func (r *Recorder) Drain() []Emitted {
	out := r.pending
	r.pending = nil
	r.marks = r.marks[:0]
	return out
}

func (r *Recorder) Snapshot() int {
	r.marks = append(r.marks, len(r.pending))
	return len(r.marks) - 1
}

func (r *Recorder) RevertToSnapshot(id int) {
	if id < 0 || id >= len(r.marks) {
		panic("FATAL: invalid event recorder snapshot")
	}
	r.pending = r.pending[:r.marks[id]]
	r.marks = r.marks[:id]
}

func (r *Recorder) Commit(id int) {
	if id < len(r.marks) {
		r.marks = r.marks[:id]
	}
}
