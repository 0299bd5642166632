package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zsiec/tschain/internal/plugin"
	"github.com/zsiec/tschain/internal/ts"
)

// makePackets builds n distinct valid packets on PID 0x100, tagging each
// with its sequence number so tests can verify ordering.
func makePackets(n int) []ts.Packet {
	pkts := make([]ts.Packet, n)
	for i := range pkts {
		pkts[i][0] = ts.SyncByte
		pkts[i][1] = 0x01
		pkts[i][2] = 0x00
		pkts[i][3] = 0x10 | byte(i&0x0F)
		pkts[i][12] = byte(i >> 24)
		pkts[i][13] = byte(i >> 16)
		pkts[i][14] = byte(i >> 8)
		pkts[i][15] = byte(i)
	}
	return pkts
}

// seqOf recovers the sequence number written by makePackets.
func seqOf(p *ts.Packet) int {
	return int(p[12])<<24 | int(p[13])<<16 | int(p[14])<<8 | int(p[15])
}

// withPCRs rewrites every step-th packet to carry a PCR, spaced so the
// stream's PCR-derived bitrate is exactly bitrate bits/second.
func withPCRs(pkts []ts.Packet, step int, bitrate uint64) {
	for i := 0; i < len(pkts); i += step {
		pcr := uint64(i) * ts.PacketSize * 8 * ts.SystemClockFreq / bitrate
		p := &pkts[i]
		p[3] = 0x30 | p[3]&0x0F
		p[4] = 7    // adaptation field length
		p[5] = 0x10 // PCR flag
		base := pcr / 300
		ext := pcr % 300
		p[6] = byte(base >> 25)
		p[7] = byte(base >> 17)
		p[8] = byte(base >> 9)
		p[9] = byte(base >> 1)
		p[10] = byte(base<<7) | 0x7E | byte(ext>>8)
		p[11] = byte(ext)
	}
}

// memInput serves a fixed packet slice, at most chunk packets per Receive.
type memInput struct {
	pkts    []ts.Packet
	pos     int
	chunk   int
	bitrate uint64
	aborted atomic.Bool

	startErr error
	started  atomic.Bool
	stopped  atomic.Bool
}

func (m *memInput) Name() string { return "mem" }

func (m *memInput) Start() error {
	m.started.Store(true)
	return m.startErr
}

func (m *memInput) Stop() error {
	m.stopped.Store(true)
	return nil
}

func (m *memInput) Receive(out []ts.Packet) (int, error) {
	if m.aborted.Load() || m.pos >= len(m.pkts) {
		return 0, nil
	}
	want := len(out)
	if m.chunk > 0 && want > m.chunk {
		want = m.chunk
	}
	n := copy(out[:want], m.pkts[m.pos:])
	m.pos += n
	return n, nil
}

func (m *memInput) Bitrate() uint64 { return m.bitrate }

func (m *memInput) Abort() { m.aborted.Store(true) }

// memOutput collects everything it is sent.
type memOutput struct {
	mu      sync.Mutex
	got     []ts.Packet
	failAt  int // fail the Send covering packet index failAt (0 = never)
	stopped atomic.Bool
}

var errSendFailed = errors.New("send failed")

func (m *memOutput) Name() string { return "collect" }

func (m *memOutput) Start() error { return nil }

func (m *memOutput) Stop() error {
	m.stopped.Store(true)
	return nil
}

func (m *memOutput) Send(pkts []ts.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAt > 0 && len(m.got)+len(pkts) >= m.failAt {
		return errSendFailed
	}
	m.got = append(m.got, pkts...)
	return nil
}

func (m *memOutput) packets() []ts.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ts.Packet, len(m.got))
	copy(out, m.got)
	return out
}

// funcProcessor adapts a function to plugin.Processor.
type funcProcessor struct {
	name string
	fn   func(pkt *ts.Packet) plugin.Status
}

func (f *funcProcessor) Name() string { return f.name }

func (f *funcProcessor) Start() error { return nil }

func (f *funcProcessor) Stop() error { return nil }

func (f *funcProcessor) Process(pkt *ts.Packet) plugin.Status { return f.fn(pkt) }
