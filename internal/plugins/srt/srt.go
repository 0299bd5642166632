// Package srt provides an input plugin that pulls a transport stream from
// a remote SRT listener in caller mode.
package srt

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/tschain/internal/plugin"
	"github.com/zsiec/tschain/internal/ts"
)

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// readBufferSize holds ten standard 1316-byte SRT payloads
// (7 packets of 188 bytes each).
const readBufferSize = 7 * ts.PacketSize * 10

func init() {
	plugin.RegisterInput("srt", newInput)
}

// Input dials a remote SRT listener and reads its transport stream.
// SRT payloads are not required to align on packet boundaries; a carry
// buffer keeps the partial packet between Receive calls.
type Input struct {
	log      *slog.Logger
	address  string
	streamID string
	conn     *srtgo.Conn
	aborted  atomic.Bool

	buf   []byte
	carry []byte
}

func newInput(args plugin.Args, log *slog.Logger) (plugin.Plugin, error) {
	addr := args.Get("address", "")
	if addr == "" {
		return nil, fmt.Errorf("srt input: address is required")
	}
	return &Input{
		log:      log,
		address:  addr,
		streamID: args.Get("streamid", ""),
		buf:      make([]byte, readBufferSize),
	}, nil
}

// Name implements plugin.Plugin.
func (i *Input) Name() string { return "srt" }

// Start dials the remote listener.
func (i *Input) Start() error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = i.streamID

	i.log.Info("dialing", "address", i.address, "streamid", i.streamID)
	conn, err := srtgo.Dial(i.address, cfg)
	if err != nil {
		return fmt.Errorf("srt input: dial %s: %w", i.address, err)
	}
	i.conn = conn
	return nil
}

// Stop closes the connection.
func (i *Input) Stop() error {
	if i.conn != nil {
		i.conn.Close()
	}
	return nil
}

// Receive implements plugin.Input.
func (i *Input) Receive(pkts []ts.Packet) (int, error) {
	return i.fill(i.conn.Read, pkts)
}

// fill assembles whole packets from a payload-oriented read function,
// carrying any trailing partial packet over to the next call.
func (i *Input) fill(read func([]byte) (int, error), pkts []ts.Packet) (int, error) {
	n := 0
	for n < len(pkts) {
		if i.aborted.Load() {
			return n, nil
		}

		if len(i.carry) < ts.PacketSize {
			if n > 0 {
				// Deliver what we have rather than block on the socket.
				return n, nil
			}
			got, err := read(i.buf)
			if err != nil {
				if i.aborted.Load() {
					return n, nil
				}
				return n, fmt.Errorf("srt input: read: %w", err)
			}
			if got == 0 {
				return n, nil
			}
			i.carry = append(i.carry, i.buf[:got]...)
			continue
		}

		copy(pkts[n][:], i.carry[:ts.PacketSize])
		i.carry = i.carry[ts.PacketSize:]
		n++
	}
	return n, nil
}

// Bitrate implements plugin.Input; SRT does not report a stream bitrate.
func (i *Input) Bitrate() uint64 { return 0 }

// Abort implements plugin.Input. Closing the socket unblocks a pending
// Read.
func (i *Input) Abort() {
	i.aborted.Store(true)
	if i.conn != nil {
		i.conn.Close()
	}
}
