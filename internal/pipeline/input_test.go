package pipeline

import (
	"testing"

	"github.com/zsiec/tschain/internal/ts"
)

func TestReceiveAndStuffCycle(t *testing.T) {
	t.Parallel()

	// nullpkt=2, inpkt=3: the produced stream must be F,F,R,R,R repeating
	// regardless of how calls are chunked.
	chunkings := [][]int{
		{50},
		{1, 1, 1, 1, 1, 45},
		{2, 3, 2, 3, 40},
		{7, 11, 13, 19},
	}

	for _, chunks := range chunkings {
		src := &memInput{pkts: makePackets(1000)}
		p, _ := newTestPipeline(t, Config{
			BufferPackets: 100,
			StuffingNull:  2,
			StuffingIn:    3,
		}, src, 0)

		var got []ts.Packet
		for _, n := range chunks {
			buf := make([]ts.Packet, n)
			w := p.input.receiveAndStuff(buf)
			got = append(got, buf[:w]...)
		}

		for i, pkt := range got {
			wantNull := i%5 < 2
			if pkt.IsNull() != wantNull {
				t.Fatalf("chunks %v: packet %d null=%t, want %t", chunks, i, pkt.IsNull(), wantNull)
			}
		}
	}
}

func TestReceiveAndStuffStartStuffing(t *testing.T) {
	t.Parallel()

	src := &memInput{pkts: makePackets(100)}
	p, _ := newTestPipeline(t, Config{BufferPackets: 100, StartStuffing: 4}, src, 0)

	buf := make([]ts.Packet, 10)
	n := p.input.receiveAndStuff(buf)
	if n != 10 {
		t.Fatalf("receiveAndStuff: got %d, want 10", n)
	}
	for i := 0; i < 4; i++ {
		if !buf[i].IsNull() {
			t.Errorf("packet %d: want start-stuffing null", i)
		}
	}
	for i := 4; i < 10; i++ {
		if buf[i].IsNull() {
			t.Errorf("packet %d: want source packet, got null", i)
		}
	}
}

func TestGetBitrateStuffingAdjustment(t *testing.T) {
	t.Parallel()

	src := &memInput{pkts: makePackets(10), bitrate: 1_000_000}
	p, _ := newTestPipeline(t, Config{
		BufferPackets: 100,
		StuffingNull:  1,
		StuffingIn:    4,
	}, src, 0)

	// Filler occupies transport capacity without carrying source data:
	// effective rate scales by (4+1)/4.
	if got, want := p.input.getBitrate(), uint64(1_250_000); got != want {
		t.Errorf("getBitrate: got %d, want %d", got, want)
	}
}

func TestGetBitrateFixedOverride(t *testing.T) {
	t.Parallel()

	src := &memInput{pkts: makePackets(10), bitrate: 1_000_000}
	p, _ := newTestPipeline(t, Config{BufferPackets: 100, FixedBitrate: 2_000_000}, src, 0)

	if got, want := p.input.getBitrate(), uint64(2_000_000); got != want {
		t.Errorf("getBitrate: got %d, want %d", got, want)
	}
}

func TestDiscoverBitrateFromPCR(t *testing.T) {
	t.Parallel()

	pkts := makePackets(2000)
	withPCRs(pkts, 100, 10_000_000)
	src := &memInput{pkts: pkts}
	p, _ := newTestPipeline(t, Config{BufferPackets: 1000}, src, 0)

	p.input.initAllBuffers()

	infos := p.Executors()
	for _, info := range infos {
		if got := info.Bitrate; got != 10_000_000 {
			t.Errorf("%s bitrate: got %d, want 10000000", info.Name, got)
		}
	}
}

func TestReceiveAndValidateStopsOnSyncLoss(t *testing.T) {
	t.Parallel()

	pkts := makePackets(100)
	pkts[50][0] = 0x00 // desynchronize
	src := &memInput{pkts: pkts}
	p, _ := newTestPipeline(t, Config{BufferPackets: 1000}, src, 0)

	buf := make([]ts.Packet, 100)
	if got := p.input.receiveAndValidate(buf); got != 50 {
		t.Fatalf("first receive: got %d, want 50 (packets before the bad marker)", got)
	}
	// The source is permanently rejected for the rest of the run.
	if got := p.input.receiveAndValidate(buf); got != 0 {
		t.Errorf("after sync loss: got %d, want 0", got)
	}
}

func TestStopStuffSpansCalls(t *testing.T) {
	t.Parallel()

	src := &memInput{}
	p, _ := newTestPipeline(t, Config{BufferPackets: 100, StopStuffing: 7}, src, 0)

	buf := make([]ts.Packet, 5)
	if got := p.input.stopStuff(buf); got != 5 {
		t.Fatalf("first stopStuff: got %d, want 5", got)
	}
	if got := p.input.stopStuff(buf); got != 2 {
		t.Fatalf("second stopStuff: got %d, want 2", got)
	}
	if got := p.input.stopStuff(buf); got != 0 {
		t.Fatalf("third stopStuff: got %d, want 0", got)
	}
}
