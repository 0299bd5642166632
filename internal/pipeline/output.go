package pipeline

import (
	"github.com/zsiec/tschain/internal/plugin"
)

// outExecutor runs the output stage. Retiring packets through passPackets
// returns their buffer slots to the input executor, since the output's
// next in the ring is the input.
type outExecutor struct {
	*executor
	plug plugin.Output
}

func newOutExecutor(e *executor, plug plugin.Output) *outExecutor {
	return &outExecutor{executor: e, plug: plug}
}

// run is the output executor's goroutine body.
func (e *outExecutor) run() {
	aborted := false

	for {
		g := e.waitWork()
		// The ring closes output to input, so a stream that ended through a
		// deliberate upstream stop arrives with the abort wave already
		// wrapped around. The granted end-of-stream window is still sent.
		if g.aborted && !g.inputEnd {
			e.passPackets(0, g.bitrate, false, true)
			aborted = true
			break
		}

		count := g.count
		end := g.last

		// Clamp delivery to the agreed joint termination point.
		if lim := e.jointLimit(); lim != Unbounded && uint64(count) >= lim {
			count = int(lim)
			end = true
		}

		var sendErr error
		if count > 0 {
			sendErr = e.plug.Send(e.ring.buf.Slice(g.first, count))
			if sendErr != nil {
				e.log.Error("output error", "error", sendErr)
			} else {
				e.processed.Add(uint64(count))
			}
		}

		if !e.passPackets(count, g.bitrate, end, sendErr != nil) {
			aborted = aborted || sendErr != nil
			break
		}
	}

	e.finish(aborted)
	e.log.Info("output done", "packets", e.processed.Load(), "aborted", aborted)
}
