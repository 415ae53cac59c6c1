package runner

// tailBuffer keeps the last n output lines of a step in a fixed ring.
type tailBuffer struct {
	ring []string
	next int
	full bool
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{ring: make([]string, max(n, 1))}
}

func (t *tailBuffer) add(line string) {
	t.ring[t.next] = line
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.full = true
	}
}

// lines returns the kept lines oldest first.
func (t *tailBuffer) lines() []string {
	if !t.full {
		return append([]string(nil), t.ring[:t.next]...)
	}
	out := make([]string, 0, len(t.ring))
	out = append(out, t.ring[t.next:]...)
	return append(out, t.ring[:t.next]...)
}
