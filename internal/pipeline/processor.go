package pipeline

import (
	"github.com/zsiec/tschain/internal/plugin"
)

// procExecutor runs one packet-processor stage. Packets are transformed in
// place inside the granted window; dropping a packet replaces it with a
// null packet so the window partition stays intact.
type procExecutor struct {
	*executor
	plug    plugin.Processor
	dropped uint64
}

func newProcExecutor(e *executor, plug plugin.Processor) *procExecutor {
	return &procExecutor{executor: e, plug: plug}
}

// run is the processor executor's goroutine body.
func (e *procExecutor) run() {
	aborted := false

	for {
		g := e.waitWork()
		// A granted end-of-stream window is still processed and delivered
		// even when the ring behind it is already aborting.
		if g.aborted && !g.inputEnd {
			e.passPackets(0, g.bitrate, false, true)
			aborted = true
			break
		}

		count := g.count
		end := g.last

		// Clamp work to the agreed joint termination point.
		if lim := e.jointLimit(); lim != Unbounded && uint64(count) >= lim {
			count = int(lim)
			end = true
		}

		pkts := e.ring.buf.Slice(g.first, count)
		done := 0
		stopped := false
		for i := range pkts {
			// Counted before the Process call so a stage voting for joint
			// termination mid-packet sees its own packet included.
			e.processed.Add(1)
			switch e.plug.Process(&pkts[i]) {
			case plugin.StatusDrop:
				pkts[i].SetNull()
				e.dropped++
				e.met.AddDropped(e.name, 1)
			case plugin.StatusStop:
				// The stopping packet was not processed after all.
				e.processed.Add(^uint64(0))
				stopped = true
			}
			if stopped {
				break
			}
			done = i + 1
		}

		if stopped {
			// The stage declared end of stream mid-window: deliver what was
			// processed, end the stream downstream, and abort upstream so
			// the source stops producing packets nobody will consume. The
			// unprocessed tail stays in this window.
			e.passPackets(done, g.bitrate, true, true)
			break
		}

		if !e.passPackets(count, g.bitrate, end, false) {
			break
		}
	}

	e.finish(aborted)
	e.log.Info("processor done",
		"packets", e.processed.Load(),
		"dropped", e.dropped,
		"aborted", aborted,
	)
}
