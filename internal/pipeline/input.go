package pipeline

import (
	"time"

	"github.com/zsiec/tschain/internal/plugin"
	"github.com/zsiec/tschain/internal/ts"
)

// inputExecutor is the ring's source participant. On top of the base
// window protocol it pre-loads the buffer before the goroutines start,
// discovers the initial bitrate, and injects configured stuffing around
// and between the source's real packets.
type inputExecutor struct {
	*executor
	plug plugin.Input

	maxFlush        int
	fixedBitrate    uint64
	bitrateInterval time.Duration

	// Stuffing configuration: startRemain fillers before any real input,
	// stopRemain fillers after the source is exhausted, and a repeating
	// cycle of stuffNull fillers then stuffIn real packets in between.
	startRemain int
	stopRemain  int
	stuffNull   int
	stuffIn     int

	// Cycle state, persistent across receiveAndStuff calls.
	nullRemain int
	inRemain   int

	// srcStopped latches permanently once the source returns no packets,
	// fails, or desynchronizes.
	srcStopped bool

	source        uint64 // validated packets pulled from the source
	stuffed       uint64 // filler packets injected, counted apart from source packets
	lastBitrateAt time.Time
}

func newInputExecutor(e *executor, plug plugin.Input, cfg Config) *inputExecutor {
	in := &inputExecutor{
		executor:        e,
		plug:            plug,
		maxFlush:        cfg.MaxFlushPackets,
		fixedBitrate:    cfg.FixedBitrate,
		bitrateInterval: cfg.BitrateInterval,
		startRemain:     cfg.StartStuffing,
		stopRemain:      cfg.StopStuffing,
		stuffNull:       cfg.StuffingNull,
		stuffIn:         cfg.StuffingIn,
	}
	in.nullRemain = in.stuffNull
	in.inRemain = in.stuffIn
	return in
}

// stuffingActive reports whether the repeating filler/real cycle is
// configured.
func (e *inputExecutor) stuffingActive() bool {
	return e.stuffNull > 0 && e.stuffIn > 0
}

// initAllBuffers pre-fills half the buffer from the source and assigns
// every executor's initial window: the pre-loaded packets go to the next
// executor, the free remainder stays with the input, and the discovered
// bitrate is propagated everywhere. Runs before any executor goroutine,
// so it bypasses the wait protocol.
func (e *inputExecutor) initAllBuffers() {
	r := e.ring
	capacity := r.buf.Capacity()
	preload := capacity / 2

	loaded := 0
	for loaded < preload {
		chunk := min(e.maxFlush, preload-loaded)
		n := e.receiveAndStuff(r.buf.Slice(loaded, chunk))
		if n == 0 {
			break
		}
		loaded += n
	}

	e.processed.Add(uint64(loaded))
	bitrate := e.discoverBitrate(r.buf.Slice(0, loaded))
	e.lastBitrateAt = time.Now()
	e.met.SetBitrate(bitrate)

	// Hand-offs grow a consumer's window at its tail, so each window must
	// end where its producer's begins: every stage past the successor
	// starts empty at offset 0.
	for i, x := range r.execs {
		switch {
		case i == e.index:
			x.initBuffer(loaded%capacity, capacity-loaded, false, false, bitrate)
		case i == (e.index+1)%len(r.execs):
			x.initBuffer(0, loaded, false, false, bitrate)
		default:
			x.initBuffer(0, 0, false, false, bitrate)
		}
	}

	e.log.Info("buffer pre-loaded",
		"packets", loaded,
		"capacity", capacity,
		"bitrate", bitrate,
	)
}

// discoverBitrate establishes the initial bitrate, in order of preference:
// configured fixed rate, source-reported rate (both adjusted for
// stuffing), statistical estimate from the PCRs in the pre-loaded batch,
// the less precise PTS estimate, or 0 for unknown.
func (e *inputExecutor) discoverBitrate(pkts []ts.Packet) uint64 {
	if br := e.getBitrate(); br > 0 {
		return br
	}
	if br := ts.BitrateFromPCR(pkts); br > 0 {
		e.log.Debug("bitrate estimated from PCR", "bitrate", br)
		return br
	}
	if br := ts.BitrateFromPTS(pkts); br > 0 {
		e.log.Debug("bitrate estimated from PTS", "bitrate", br)
		return br
	}
	e.log.Debug("input bitrate unknown")
	return 0
}

// getBitrate returns the configured or source-reported bitrate adjusted
// for the stuffing ratio: filler packets carry no source data but occupy
// transport capacity, so the effective rate scales by
// (inpkt+nullpkt)/inpkt.
func (e *inputExecutor) getBitrate() uint64 {
	br := e.fixedBitrate
	if br == 0 {
		br = e.plug.Bitrate()
	}
	if br > 0 && e.stuffingActive() {
		br = br * uint64(e.stuffIn+e.stuffNull) / uint64(e.stuffIn)
	}
	return br
}

// receiveAndValidate pulls up to len(pkts) packets from the source and
// checks their sync bytes. The first bad marker permanently stops source
// intake for the run; packets validated before it are still returned.
func (e *inputExecutor) receiveAndValidate(pkts []ts.Packet) int {
	if e.srcStopped {
		return 0
	}

	n, err := e.plug.Receive(pkts)
	if err != nil {
		e.log.Error("input error", "error", err)
		e.srcStopped = true
		if n < 0 {
			n = 0
		}
	}

	for i := 0; i < n; i++ {
		if !pkts[i].HasSync() {
			e.log.Error("input synchronization lost, dropping source",
				"packet", e.source+uint64(i))
			e.srcStopped = true
			n = i
			break
		}
	}

	if n == 0 {
		e.srcStopped = true
		return 0
	}

	e.source += uint64(n)
	return n
}

// receiveAndStuff fills pkts with the configured mix of synthetic filler
// and validated source packets. Start stuffing is emitted first, once;
// thereafter each cycle emits stuffNull fillers then stuffIn real packets.
// Cycle state persists across calls, so chunking never changes the
// produced sequence. Returns 0 once the source is exhausted.
func (e *inputExecutor) receiveAndStuff(pkts []ts.Packet) int {
	if e.srcStopped {
		return 0
	}

	n := 0
	for n < len(pkts) {
		if e.startRemain > 0 {
			pkts[n].SetNull()
			e.startRemain--
			e.stuffed++
			e.met.AddStuffed(e.name, 1)
			n++
			continue
		}

		if e.stuffingActive() && e.nullRemain > 0 {
			pkts[n].SetNull()
			e.nullRemain--
			e.stuffed++
			e.met.AddStuffed(e.name, 1)
			n++
			continue
		}

		want := len(pkts) - n
		if e.stuffingActive() && want > e.inRemain {
			want = e.inRemain
		}
		got := e.receiveAndValidate(pkts[n : n+want])
		n += got
		if e.stuffingActive() {
			e.inRemain -= got
			if e.inRemain == 0 {
				e.nullRemain = e.stuffNull
				e.inRemain = e.stuffIn
			}
		}
		if got < want {
			break
		}
	}
	return n
}

// stopStuff emits up to len(pkts) of the configured trailing filler.
func (e *inputExecutor) stopStuff(pkts []ts.Packet) int {
	n := min(len(pkts), e.stopRemain)
	for i := 0; i < n; i++ {
		pkts[i].SetNull()
	}
	e.stopRemain -= n
	e.stuffed += uint64(n)
	e.met.AddStuffed(e.name, n)
	return n
}

// run is the input executor's goroutine body.
func (e *inputExecutor) run() {
	aborted := false

	for {
		g := e.waitWork()
		if g.aborted {
			// Downstream no longer wants data: no trailing filler.
			e.passPackets(0, g.bitrate, false, true)
			aborted = true
			break
		}
		if g.inputEnd {
			e.passPackets(0, g.bitrate, true, false)
			break
		}

		count := min(g.count, e.maxFlush)
		bitrate := g.bitrate
		end := false

		// Clamp production to the agreed joint termination point.
		if lim := e.jointLimit(); lim != Unbounded && uint64(count) >= lim {
			count = int(lim)
			if count == 0 {
				end = true
			}
		}

		n := 0
		if count > 0 {
			n = e.receiveAndStuff(e.ring.buf.Slice(g.first, count))
			if n == 0 {
				// Source exhausted: append trailing filler, then declare
				// end of stream.
				n = e.stopStuff(e.ring.buf.Slice(g.first, count))
				if e.stopRemain == 0 {
					end = true
				}
			}
		}

		e.processed.Add(uint64(n))

		if e.bitrateInterval > 0 && time.Since(e.lastBitrateAt) >= e.bitrateInterval {
			e.lastBitrateAt = time.Now()
			if br := e.getBitrate(); br > 0 {
				bitrate = br
				e.met.SetBitrate(br)
			}
		}

		if !e.passPackets(n, bitrate, end, false) {
			break
		}
	}

	e.finish(aborted)
	e.log.Info("input done",
		"source_packets", e.source,
		"stuffed", e.stuffed,
		"aborted", aborted,
	)
}
