// Package regulate provides a processor plugin that paces the stream to a
// target bitrate, for feeding real-time consumers from faster-than-real-time
// sources such as files.
package regulate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/zsiec/tschain/internal/plugin"
	"github.com/zsiec/tschain/internal/ts"
)

func init() {
	plugin.RegisterProcessor("regulate", newProcessor)
}

// Processor delays packets so they leave at the configured bitrate. The
// limiter is packet-granular; its burst allows one maximal I/O chunk to
// pass without artificial gaps inside it.
type Processor struct {
	log     *slog.Logger
	bitrate uint64
	burst   int
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
}

func newProcessor(args plugin.Args, log *slog.Logger) (plugin.Plugin, error) {
	raw := args.Get("bitrate", "")
	if raw == "" {
		return nil, fmt.Errorf("regulate: bitrate is required")
	}
	bitrate, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || bitrate == 0 {
		return nil, fmt.Errorf("regulate: invalid bitrate %q", raw)
	}
	burst := 512
	if v := args.Get("burst", ""); v != "" {
		b, err := strconv.Atoi(v)
		if err != nil || b < 1 {
			return nil, fmt.Errorf("regulate: invalid burst %q", v)
		}
		burst = b
	}
	return &Processor{log: log, bitrate: bitrate, burst: burst}, nil
}

// Name implements plugin.Plugin.
func (p *Processor) Name() string { return "regulate" }

// Start sets up the limiter at bitrate/(188*8) packets per second.
func (p *Processor) Start() error {
	pps := rate.Limit(float64(p.bitrate) / (ts.PacketSize * 8))
	p.limiter = rate.NewLimiter(pps, p.burst)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.log.Info("regulating", "bitrate", p.bitrate, "packets_per_second", float64(pps))
	return nil
}

// Stop releases any packet blocked in the limiter.
func (p *Processor) Stop() error {
	p.cancel()
	return nil
}

// Process implements plugin.Processor.
func (p *Processor) Process(pkt *ts.Packet) plugin.Status {
	if err := p.limiter.Wait(p.ctx); err != nil {
		// Stopped while pacing: end the stream rather than burst the rest.
		return plugin.StatusStop
	}
	return plugin.StatusKeep
}
