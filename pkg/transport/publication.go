package transport

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Publication is a non-blocking, length-prefixed claim-and-commit writer into
// an exclusive stream. TryClaim either hands out a claim for the requested
// payload length or reports backpressure; it never blocks. A claimed region
// becomes visible to the consumer side only on Commit.
type Publication interface {
	TryClaim(length int) (*Claim, bool)
}

// Claim is a writable region reserved in a publication. Exactly one of
// Commit or Abort must be called.
type Claim struct {
	frame []byte
	pub   *RingPublication
	done  bool
}

// Buffer returns the payload area of the claimed frame.
func (c *Claim) Buffer() []byte { return c.frame[frameHeaderLength:] }

// Commit publishes the frame to the consumer side.
func (c *Claim) Commit() {
	if c.done {
		return
	}
	c.done = true
	c.pub.commit(c.frame)
}

// Abort releases the reserved space without publishing.
func (c *Claim) Abort() {
	if c.done {
		return
	}
	c.done = true
	c.pub.release(len(c.frame))
}

// FrameHandler consumes one committed frame payload.
type FrameHandler func(payload []byte)

const frameHeaderLength = 4

// RingPublication is an in-process Publication over a bounded byte budget.
// Frames carry a u32 length prefix; the consumer drains them with Poll.
type RingPublication struct {
	mu       sync.Mutex
	capacity int
	used     int
	frames   [][]byte
}

// NewRingPublication creates a publication that buffers at most capacity
// bytes of framed messages before signalling backpressure.
func NewRingPublication(capacity int) (*RingPublication, error) {
	if capacity <= frameHeaderLength {
		return nil, fmt.Errorf("transport: capacity %d too small", capacity)
	}
	return &RingPublication{capacity: capacity}, nil
}

func (p *RingPublication) TryClaim(length int) (*Claim, bool) {
	if length <= 0 {
		return nil, false
	}
	need := frameHeaderLength + length
	p.mu.Lock()
	defer p.mu.Unlock()
	if need > p.capacity || p.used+need > p.capacity {
		return nil, false
	}
	p.used += need
	frame := make([]byte, need)
	binary.LittleEndian.PutUint32(frame[0:frameHeaderLength], uint32(length))
	return &Claim{frame: frame, pub: p}, true
}

func (p *RingPublication) commit(frame []byte) {
	p.mu.Lock()
	p.frames = append(p.frames, frame)
	p.mu.Unlock()
}

func (p *RingPublication) release(n int) {
	p.mu.Lock()
	p.used -= n
	p.mu.Unlock()
}

// Poll drains up to limit committed frames in publication order, invoking
// handler with each payload. Returns the number of frames consumed.
func (p *RingPublication) Poll(handler FrameHandler, limit int) int {
	p.mu.Lock()
	n := len(p.frames)
	if n > limit {
		n = limit
	}
	batch := p.frames[:n]
	p.frames = p.frames[n:]
	for _, frame := range batch {
		p.used -= len(frame)
	}
	p.mu.Unlock()

	for _, frame := range batch {
		length := binary.LittleEndian.Uint32(frame[0:frameHeaderLength])
		handler(frame[frameHeaderLength : frameHeaderLength+int(length)])
	}
	return n
}

var _ Publication = (*RingPublication)(nil)
