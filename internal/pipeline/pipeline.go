package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/tschain/internal/metrics"
	"github.com/zsiec/tschain/internal/plugin"
)

// Defaults, in packets and seconds.
const (
	// DefaultBufferPackets is 16 MB worth of 188-byte packets.
	DefaultBufferPackets = 16_000_000 / 188

	// DefaultMaxFlushPackets bounds the packets handled per I/O call.
	DefaultMaxFlushPackets = 10_000

	// DefaultBitrateInterval is how often the input re-evaluates its
	// bitrate.
	DefaultBitrateInterval = 5 * time.Second
)

// ErrAborted is returned by Run when the pipeline stopped because a stage
// aborted (including an abort forced through the control channel).
var ErrAborted = errors.New("pipeline: run aborted")

// Config carries the pipeline-level settings; plugin-specific settings
// live in each plugin's own Args.
type Config struct {
	// BufferPackets is the capacity of the shared circular buffer.
	BufferPackets int

	// MaxFlushPackets bounds how many packets one I/O operation may cover.
	MaxFlushPackets int

	// FixedBitrate overrides bitrate discovery when non-zero.
	FixedBitrate uint64

	// BitrateInterval is the period between bitrate re-evaluations.
	BitrateInterval time.Duration

	// WaitTimeout aborts an executor that gets no work within the given
	// duration. Zero disables the timeout.
	WaitTimeout time.Duration

	// StartStuffing and StopStuffing are one-time filler packet counts
	// emitted before the first and after the last source packet.
	StartStuffing int
	StopStuffing  int

	// StuffingNull/StuffingIn describe the repeating cycle of StuffingNull
	// filler packets per StuffingIn source packets. Both zero disables
	// cycle stuffing.
	StuffingNull int
	StuffingIn   int

	// IgnoreJointTermination makes UseJointTermination a no-op for all
	// stages.
	IgnoreJointTermination bool

	Log     *slog.Logger
	Metrics *metrics.Collector
}

// Pipeline is one configured run: a ring of executors around one shared
// packet buffer. Construct with New, drive with Run; a Pipeline is not
// reusable after Run returns.
type Pipeline struct {
	log   *slog.Logger
	ring  *Ring
	input *inputExecutor
	procs []*procExecutor
	out   *outExecutor

	inPlug  plugin.Input
	plugins []plugin.Plugin // chain order, for lifecycle hooks
}

// New assembles a pipeline from one input, zero or more processors, and
// one output.
func New(cfg Config, in plugin.Input, procs []plugin.Processor, out plugin.Output) (*Pipeline, error) {
	if in == nil || out == nil {
		return nil, fmt.Errorf("pipeline: input and output plugins are required")
	}
	if (cfg.StuffingNull > 0) != (cfg.StuffingIn > 0) {
		return nil, fmt.Errorf("pipeline: stuffing cycle needs both nullpkt and inpkt")
	}
	if cfg.BufferPackets == 0 {
		cfg.BufferPackets = DefaultBufferPackets
	}
	if cfg.MaxFlushPackets == 0 {
		cfg.MaxFlushPackets = DefaultMaxFlushPackets
	}
	if cfg.BitrateInterval == 0 {
		cfg.BitrateInterval = DefaultBitrateInterval
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	buf, err := NewPacketBuffer(cfg.BufferPackets)
	if err != nil {
		return nil, err
	}

	r := &Ring{buf: buf, joint: NewJointTermination()}
	p := &Pipeline{log: log.With("component", "pipeline"), ring: r, inPlug: in}

	names := make(map[string]int)
	unique := func(n string) string {
		names[n]++
		if names[n] > 1 {
			return fmt.Sprintf("%s#%d", n, names[n])
		}
		return n
	}

	base := newExecutor(unique(in.Name()), RoleInput, cfg.WaitTimeout, log, cfg.Metrics)
	base.ignoreJoint = cfg.IgnoreJointTermination
	p.input = newInputExecutor(base, in, cfg)
	execs := []*executor{base}
	p.plugins = append(p.plugins, in)

	for _, proc := range procs {
		e := newExecutor(unique(proc.Name()), RoleProcessor, cfg.WaitTimeout, log, cfg.Metrics)
		e.ignoreJoint = cfg.IgnoreJointTermination
		p.procs = append(p.procs, newProcExecutor(e, proc))
		execs = append(execs, e)
		p.plugins = append(p.plugins, proc)
	}

	e := newExecutor(unique(out.Name()), RoleOutput, cfg.WaitTimeout, log, cfg.Metrics)
	e.ignoreJoint = cfg.IgnoreJointTermination
	p.out = newOutExecutor(e, out)
	execs = append(execs, e)
	p.plugins = append(p.plugins, out)

	r.execs = execs
	for i, x := range execs {
		x.attach(r, i)
	}

	return p, nil
}

// Run starts every plugin, pre-loads the buffer, launches one goroutine
// per executor, and blocks until the ring drains or aborts. Cancelling ctx
// forces an abort. Returns ErrAborted if any stage aborted.
func (p *Pipeline) Run(ctx context.Context) error {
	started := 0
	for i, pl := range p.plugins {
		if ha, ok := pl.(plugin.HostAware); ok {
			ha.AttachHost(p.ring.execs[i])
		}
		if err := pl.Start(); err != nil {
			p.stopPlugins(started)
			return fmt.Errorf("pipeline: start %s: %w", pl.Name(), err)
		}
		started++
	}

	// Watch for cancellation before pre-loading: a live source may block
	// in Receive long before the buffer is half full.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.log.Info("context cancelled, aborting pipeline")
			p.Abort()
		case <-done:
		}
	}()

	p.input.initAllBuffers()

	var wg sync.WaitGroup
	for _, runner := range p.runners() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner()
		}()
	}

	wg.Wait()
	close(done)
	p.stopPlugins(started)

	// A stage that deliberately ends the stream aborts its upstream as
	// part of shutdown; only the output's flag tells a failed run from a
	// drained one.
	if p.out.wasAborted() {
		return ErrAborted
	}
	p.log.Info("pipeline drained")
	return nil
}

func (p *Pipeline) runners() []func() {
	runners := []func(){p.input.run}
	for _, pr := range p.procs {
		runners = append(runners, pr.run)
	}
	return append(runners, p.out.run)
}

func (p *Pipeline) stopPlugins(n int) {
	for i := n - 1; i >= 0; i-- {
		if err := p.plugins[i].Stop(); err != nil {
			p.log.Warn("plugin stop failed", "plugin", p.plugins[i].Name(), "error", err)
		}
	}
}

// Abort forces every executor's abort flag and unblocks a pending input
// Receive. The ring then shuts down cooperatively.
func (p *Pipeline) Abort() {
	p.inPlug.Abort()
	for _, x := range p.ring.execs {
		x.setAbort()
	}
}

// Executors returns a consistent snapshot of every executor's window and
// state, in ring order.
func (p *Pipeline) Executors() []ExecutorInfo {
	p.ring.mu.Lock()
	defer p.ring.mu.Unlock()
	infos := make([]ExecutorInfo, 0, len(p.ring.execs))
	for _, x := range p.ring.execs {
		infos = append(infos, x.info())
	}
	return infos
}
