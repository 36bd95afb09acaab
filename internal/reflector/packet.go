package reflector

import (
	"sync/atomic"
	"time"
)

// Packet is an owned byte buffer plus the metadata the reflector core
// needs to age it, order it, and decide whether it is still referenced
// by a Subscriber bookmark — spec.md §3/§4.1.
type Packet struct {
	Data    []byte
	Arrival time.Time
	IsRTCP  bool

	// SeqID is the per-stream monotonic sequence assigned at enqueue
	// time (spec.md §3 invariant: "fPacketCount monotonically
	// increases").
	SeqID uint64

	needed atomic.Bool
}

// NewPacket copies data into an owned Packet. The copy is required
// because the UDP demux loop reuses its scratch buffer across reads;
// interleaved frames arrive in a freshly allocated payload, so for them
// the copy is redundant but harmless.
func NewPacket(data []byte, isRTCP bool) *Packet {
	owned := make([]byte, len(data))
	copy(owned, data)
	return &Packet{
		Data:    owned,
		Arrival: time.Now(),
		IsRTCP:  isRTCP,
	}
}

// Len returns the packet's byte length.
func (p *Packet) Len() int {
	return len(p.Data)
}

// FirstByte returns the packet's first byte, or 0 if empty.
func (p *Packet) FirstByte() byte {
	if len(p.Data) == 0 {
		return 0
	}
	return p.Data[0]
}

// Age returns how long ago this packet arrived.
func (p *Packet) Age(now time.Time) time.Duration {
	return now.Sub(p.Arrival)
}

// NeededByOutput reports whether this packet is still referenced by a
// Subscriber bookmark or is the current keyframe-start pointer.
func (p *Packet) NeededByOutput() bool {
	return p.needed.Load()
}

// SetNeededByOutput sets the needed-by-output flag.
func (p *Packet) SetNeededByOutput(v bool) {
	p.needed.Store(v)
}
