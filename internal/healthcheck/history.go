package healthcheck

// history is a fixed capacity FIFO of probe results; the oldest entry is
// overwritten once it is full.
type history struct {
	entries []ProbeResult
	start   int
	size    int
}

func newHistory(capacity int) *history {
	if capacity < 1 {
		capacity = 1
	}
	return &history{entries: make([]ProbeResult, capacity)}
}

func (h *history) push(r ProbeResult) {
	capacity := len(h.entries)
	if h.size < capacity {
		h.entries[(h.start+h.size)%capacity] = r
		h.size++
		return
	}

	h.entries[h.start] = r
	h.start = (h.start + 1) % capacity
}

// list returns the entries oldest first.
func (h *history) list() []ProbeResult {
	out := make([]ProbeResult, h.size)
	for i := range out {
		out[i] = h.entries[(h.start+i)%len(h.entries)]
	}
	return out
}

func (h *history) resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	if capacity == len(h.entries) {
		return
	}

	items := h.list()
	if len(items) > capacity {
		items = items[len(items)-capacity:]
	}

	h.entries = make([]ProbeResult, capacity)
	copy(h.entries, items)
	h.start = 0
	h.size = len(items)
}
