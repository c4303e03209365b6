package vad

// RollingBuffer is the FIFO of 16 kHz PCM bytes waiting to be framed.
// It is never cleared on turn boundaries; only whole frames leave it.
type RollingBuffer struct {
	data     []byte
	enqueued int64
	dequeued int64
}

// Write appends bytes in arrival order
func (b *RollingBuffer) Write(p []byte) {
	b.data = append(b.data, p...)
	b.enqueued += int64(len(p))
}

// Next removes and returns the oldest n bytes, or nil when fewer are buffered
func (b *RollingBuffer) Next(n int) []byte {
	if n <= 0 || len(b.data) < n {
		return nil
	}
	frame := make([]byte, n)
	copy(frame, b.data[:n])
	// compact so the backing array does not grow without bound on a long call
	remaining := copy(b.data, b.data[n:])
	b.data = b.data[:remaining]
	b.dequeued += int64(n)
	return frame
}

// Len is the number of bytes waiting
func (b *RollingBuffer) Len() int { return len(b.data) }

// Enqueued is the total bytes ever written
func (b *RollingBuffer) Enqueued() int64 { return b.enqueued }

// Dequeued is the total bytes ever removed by Next
func (b *RollingBuffer) Dequeued() int64 { return b.dequeued }
