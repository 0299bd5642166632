// Package plugin defines the contract between the pipeline core and the
// pluggable stages it chains together: one input, zero or more packet
// processors, one output. Plugins are registered by name through factories
// and instantiated from configuration at start-up.
package plugin

import (
	"github.com/zsiec/tschain/internal/ts"
)

// Status is a processor's verdict on a single packet.
type Status int

const (
	// StatusKeep passes the packet downstream unchanged (or as modified
	// in place by the processor).
	StatusKeep Status = iota

	// StatusDrop removes the packet from the stream. The slot it occupied
	// is replaced with a null packet so window accounting stays intact.
	StatusDrop

	// StatusStop declares end of stream: packets processed so far are
	// still delivered, then the stage terminates.
	StatusStop
)

// Plugin is the lifecycle shared by all roles. Start and Stop are invoked
// exactly once each, outside the packet hot loop.
type Plugin interface {
	Name() string
	Start() error
	Stop() error
}

// Input produces packets from an external source.
type Input interface {
	Plugin

	// Receive fills pkts with up to len(pkts) packets and returns how many
	// were written. It blocks until at least one packet is available;
	// returning 0 means the source is exhausted.
	Receive(pkts []ts.Packet) (int, error)

	// Bitrate returns the source bitrate in bits per second, or 0 if the
	// source cannot report one.
	Bitrate() uint64

	// Abort unblocks a pending Receive; the source must return promptly
	// afterwards.
	Abort()
}

// Processor transforms packets in place, one at a time.
type Processor interface {
	Plugin
	Process(pkt *ts.Packet) Status
}

// Output consumes packets at the end of the chain.
type Output interface {
	Plugin

	// Send delivers a contiguous run of packets. An error aborts the
	// pipeline.
	Send(pkts []ts.Packet) error
}

// Host exposes pipeline services to a running stage. The executor that
// owns the plugin implements it.
type Host interface {
	// UseJointTermination opts this stage in or out of the joint
	// termination vote. Idempotent.
	UseJointTermination(on bool)

	// JointTerminate records that this stage has nothing more useful to
	// contribute. Called at most once per opted-in stage.
	JointTerminate()

	// TotalPackets returns the number of packets this stage has processed
	// so far in the run.
	TotalPackets() uint64
}

// HostAware is implemented by plugins that need pipeline services.
// AttachHost is called once, before Start.
type HostAware interface {
	AttachHost(h Host)
}
