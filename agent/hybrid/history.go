package hybrid

import "time"

// history is a fixed-size ring of execution records, oldest first.
type history struct {
	buf   []ExecutionRecord
	start int
	n     int
}

func newHistory(size int) *history {
	return &history{buf: make([]ExecutionRecord, size)}
}

func (h *history) add(rec ExecutionRecord) {
	if len(h.buf) == 0 {
		return
	}
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = rec
		h.n++
		return
	}
	h.buf[h.start] = rec
	h.start = (h.start + 1) % len(h.buf)
}

func (h *history) each(fn func(ExecutionRecord)) {
	for i := 0; i < h.n; i++ {
		fn(h.buf[(h.start+i)%len(h.buf)])
	}
}

func (h *history) snapshot() []ExecutionRecord {
	out := make([]ExecutionRecord, 0, h.n)
	h.each(func(r ExecutionRecord) { out = append(out, r) })
	return out
}

// countSince counts records per target at or after since.
func (h *history) countSince(since time.Time) map[string]int {
	counts := make(map[string]int)
	h.each(func(r ExecutionRecord) {
		if !r.At.Before(since) {
			counts[r.target()]++
		}
	})
	return counts
}

func (h *history) stats() RouterStats {
	s := RouterStats{ByStrategy: make(map[Strategy]int)}
	var total time.Duration
	h.each(func(r ExecutionRecord) {
		s.Total++
		s.ByStrategy[r.Strategy]++
		total += r.Duration
		if r.Location == LocationLocal {
			s.Local++
		} else {
			s.Remote++
		}
		if !r.Success {
			s.Failures++
		}
		if r.Fallback {
			s.Fallbacks++
		}
	})
	if s.Total > 0 {
		s.AvgDuration = total / time.Duration(s.Total)
	}
	return s
}
