package firmware

// Class is a parameter class of the command queue. Each channel holds at
// most one pending write per class.
type Class int

const (
	ClassWave Class = iota
	ClassFrequency
	ClassVolume
	ClassAlpha
	ClassBeta
	ClassGamma
	numClasses
)

func (c Class) String() string {
	switch c {
	case ClassWave:
		return "wave"
	case ClassFrequency:
		return "frequency"
	case ClassVolume:
		return "volume"
	case ClassAlpha:
		return "alpha"
	case ClassBeta:
		return "beta"
	case ClassGamma:
		return "gamma"
	}
	return "unknown"
}

// slot is a pending two-byte write.
type slot struct {
	data [2]byte
	n    uint8
	full bool
}

func makeSlot(data []byte) slot {
	var s slot
	s.n = uint8(copy(s.data[:], data))
	s.full = true
	return s
}

func (s slot) bytes() []byte {
	return s.data[:s.n]
}

// Queue coalesces parameter writes between MIDI handling and the
// transport flush. A later write to the same channel and class replaces
// an earlier unflushed one.
type Queue struct {
	slots   [][numClasses]slot
	sent    [][numClasses]slot // last value flushed per channel and class
	dirty   [numClasses]bool
	changed bool
}

// NewQueue creates a queue for the given number of channels.
func NewQueue(channels int) *Queue {
	return &Queue{
		slots: make([][numClasses]slot, channels),
		sent:  make([][numClasses]slot, channels),
	}
}

// Set queues data for ch unless the chip already holds exactly that value.
func (q *Queue) Set(ch int, c Class, data ...byte) {
	s := makeSlot(data)
	if !q.slots[ch][c].full && q.sent[ch][c] == s {
		return
	}
	q.put(ch, c, s)
}

// Force queues data for ch even if it matches the last flushed value.
func (q *Queue) Force(ch int, c Class, data ...byte) {
	q.put(ch, c, makeSlot(data))
}

func (q *Queue) put(ch int, c Class, s slot) {
	q.slots[ch][c] = s
	q.dirty[c] = true
	q.changed = true
}

// Pending returns the unflushed write for ch and c, if any.
func (q *Queue) Pending(ch int, c Class) ([]byte, bool) {
	s := q.slots[ch][c]
	if !s.full {
		return nil, false
	}
	return s.bytes(), true
}

// Dirty reports whether any channel has a pending write of class c.
func (q *Queue) Dirty(c Class) bool {
	return q.dirty[c]
}

// Changed reports whether anything was queued since the last flush.
func (q *Queue) Changed() bool {
	return q.changed
}

// Forget drops the last-flushed record of ch so that the next Set is
// always sent.
func (q *Queue) Forget(ch int) {
	q.sent[ch] = [numClasses]slot{}
}

// Clear drops every pending write and every last-flushed record.
func (q *Queue) Clear() {
	for i := range q.slots {
		q.slots[i] = [numClasses]slot{}
		q.sent[i] = [numClasses]slot{}
	}
	q.dirty = [numClasses]bool{}
	q.changed = false
}

// Flush hands every pending write to emit, class by class in channel
// order, and empties the queue.
func (q *Queue) Flush(emit func(ch int, c Class, data []byte)) {
	if !q.changed {
		return
	}
	for c := Class(0); c < numClasses; c++ {
		if !q.dirty[c] {
			continue
		}
		for ch := range q.slots {
			s := q.slots[ch][c]
			if !s.full {
				continue
			}
			emit(ch, c, s.bytes())
			q.sent[ch][c] = s
			q.slots[ch][c] = slot{}
		}
		q.dirty[c] = false
	}
	q.changed = false
}
