package session

import "sync"

// recording captures caller audio up to a fixed size; later audio is dropped
type recording struct {
	mu   sync.Mutex
	max  int
	data []byte
	full bool
}

// newRecording returns nil when capture is disabled
func newRecording(max int) *recording {
	if max <= 0 {
		return nil
	}
	return &recording{max: max}
}

func (r *recording) add(b []byte) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return
	}
	room := r.max - len(r.data)
	if len(b) >= room {
		b = b[:room]
		r.full = true
	}
	r.data = append(r.data, b...)
}

func (r *recording) len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func (r *recording) bytes() []byte {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data...)
}
