// Package pidfilter provides a processor plugin that keeps or drops
// packets by PID. Dropped packets become null packets so the stream's
// packet count and timing are preserved.
package pidfilter

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/zsiec/tschain/internal/plugin"
	"github.com/zsiec/tschain/internal/ts"
)

func init() {
	plugin.RegisterProcessor("pidfilter", newProcessor)
}

// Processor filters packets on a PID set. In "keep" mode, PIDs outside the
// set are dropped; in "drop" mode, PIDs inside the set are dropped.
type Processor struct {
	log  *slog.Logger
	pids map[uint16]bool
	keep bool
}

func newProcessor(args plugin.Args, log *slog.Logger) (plugin.Plugin, error) {
	mode := args.Get("mode", "keep")
	if mode != "keep" && mode != "drop" {
		return nil, fmt.Errorf("pidfilter: mode must be keep or drop, got %q", mode)
	}

	raw := args.Get("pids", "")
	if raw == "" {
		return nil, fmt.Errorf("pidfilter: pids is required")
	}
	pids := make(map[uint16]bool)
	for _, s := range strings.Split(raw, ",") {
		v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
		if err != nil || v > ts.PIDNull {
			return nil, fmt.Errorf("pidfilter: invalid PID %q", s)
		}
		pids[uint16(v)] = true
	}

	return &Processor{log: log, pids: pids, keep: mode == "keep"}, nil
}

// Name implements plugin.Plugin.
func (p *Processor) Name() string { return "pidfilter" }

// Start implements plugin.Plugin.
func (p *Processor) Start() error {
	p.log.Info("filtering", "pids", len(p.pids), "keep", p.keep)
	return nil
}

// Stop implements plugin.Plugin.
func (p *Processor) Stop() error { return nil }

// Process implements plugin.Processor.
func (p *Processor) Process(pkt *ts.Packet) plugin.Status {
	if p.pids[pkt.PID()] == p.keep {
		return plugin.StatusKeep
	}
	return plugin.StatusDrop
}
