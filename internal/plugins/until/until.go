// Package until provides a processor plugin that ends the stream after a
// configured number of packets. With joint=true it votes through joint
// termination instead of cutting the stream unilaterally, so several
// stages can agree on a common stop point.
package until

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/zsiec/tschain/internal/plugin"
	"github.com/zsiec/tschain/internal/ts"
)

func init() {
	plugin.RegisterProcessor("until", newProcessor)
}

// Processor counts packets and stops (or votes to stop) at the limit.
type Processor struct {
	log   *slog.Logger
	limit uint64
	joint bool
	seen  uint64
	voted bool
	host  plugin.Host
}

func newProcessor(args plugin.Args, log *slog.Logger) (plugin.Plugin, error) {
	raw := args.Get("packets", "")
	if raw == "" {
		return nil, fmt.Errorf("until: packets is required")
	}
	limit, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || limit == 0 {
		return nil, fmt.Errorf("until: invalid packet count %q", raw)
	}
	return &Processor{
		log:   log,
		limit: limit,
		joint: args.Get("joint", "false") == "true",
	}, nil
}

// Name implements plugin.Plugin.
func (p *Processor) Name() string { return "until" }

// AttachHost implements plugin.HostAware.
func (p *Processor) AttachHost(h plugin.Host) { p.host = h }

// Start opts into joint termination when configured.
func (p *Processor) Start() error {
	if p.joint {
		p.host.UseJointTermination(true)
	}
	return nil
}

// Stop implements plugin.Plugin.
func (p *Processor) Stop() error { return nil }

// Process implements plugin.Processor.
func (p *Processor) Process(pkt *ts.Packet) plugin.Status {
	p.seen++
	if p.seen < p.limit {
		return plugin.StatusKeep
	}
	if !p.joint {
		if p.seen == p.limit {
			p.log.Info("packet limit reached, ending stream", "packets", p.limit)
			return plugin.StatusKeep
		}
		return plugin.StatusStop
	}
	if !p.voted {
		p.voted = true
		p.log.Info("packet limit reached, voting to terminate", "packets", p.limit)
		p.host.JointTerminate()
	}
	return plugin.StatusKeep
}
