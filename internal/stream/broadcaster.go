// Package stream holds the latest annotated frame and serves it as an MJPEG
// stream or a single snapshot.
package stream

import (
	"sync"
	"time"
)

// Frame is one published JPEG. Data is never modified after publishing.
type Frame struct {
	Data []byte
	Seq  uint64
	At   time.Time
}

// Broadcaster holds exactly one latest frame. The producer overwrites it;
// readers copy it out and release the lock immediately.
type Broadcaster struct {
	mu     sync.RWMutex
	latest Frame
	seq    uint64
	now    func() time.Time
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{now: time.Now}
}

// Publish replaces the latest frame and returns its sequence number. The
// caller must not modify data afterwards.
func (b *Broadcaster) Publish(data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	at := b.now()

	b.mu.Lock()
	b.seq++
	b.latest = Frame{Data: data, Seq: b.seq, At: at}
	seq := b.seq
	b.mu.Unlock()
	return seq
}

// Latest returns the latest frame, or false if none was published since the
// last Reset.
func (b *Broadcaster) Latest() (Frame, bool) {
	b.mu.RLock()
	f := b.latest
	b.mu.RUnlock()
	return f, f.Data != nil
}

// Ready reports whether a frame is available.
func (b *Broadcaster) Ready() bool {
	_, ok := b.Latest()
	return ok
}

// LastFrameTime returns when the latest frame was published.
func (b *Broadcaster) LastFrameTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest.At
}

// Reset drops the latest frame. Sequence numbers keep increasing so a
// reader never mistakes a new run's frame for one it already sent.
func (b *Broadcaster) Reset() {
	b.mu.Lock()
	b.latest = Frame{}
	b.mu.Unlock()
}
