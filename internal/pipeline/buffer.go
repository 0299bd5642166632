// Package pipeline implements the packet-processing core: a ring of
// executors (one goroutine per chained plugin) sharing one preallocated
// circular packet buffer with no copying at hand-off. Each executor owns a
// contiguous window of the buffer; windows are passed around the ring under
// a single global lock, while packet payloads are touched lock-free by the
// window's current owner.
package pipeline

import (
	"fmt"

	"github.com/zsiec/tschain/internal/ts"
)

// PacketBuffer is the shared circular packet store. It is allocated once
// before the executor goroutines start and never resized. Ownership of its
// slots is tracked entirely by the executors' windows; the buffer itself
// carries no synchronization.
type PacketBuffer struct {
	pkts []ts.Packet
}

// NewPacketBuffer allocates a buffer holding capacity packets.
func NewPacketBuffer(capacity int) (*PacketBuffer, error) {
	if capacity < 2 {
		return nil, fmt.Errorf("pipeline: buffer capacity %d, need at least 2 packets", capacity)
	}
	return &PacketBuffer{pkts: make([]ts.Packet, capacity)}, nil
}

// Capacity returns the fixed number of packet slots.
func (b *PacketBuffer) Capacity() int {
	return len(b.pkts)
}

// Slice returns the contiguous run of count packets starting at first.
// The caller must own [first, first+count) and the run must not wrap;
// waitWork only ever grants non-wrapping runs.
func (b *PacketBuffer) Slice(first, count int) []ts.Packet {
	return b.pkts[first : first+count]
}
