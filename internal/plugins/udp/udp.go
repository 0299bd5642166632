// Package udp provides an output plugin that sends the transport stream
// as UDP datagrams of up to seven packets (1316 bytes), the conventional
// TS-over-IP payload size.
package udp

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/zsiec/tschain/internal/plugin"
	"github.com/zsiec/tschain/internal/ts"
)

// packetsPerDatagram is the conventional TS-over-IP packing.
const packetsPerDatagram = 7

func init() {
	plugin.RegisterOutput("udp", newOutput)
}

// Output sends packets to a UDP destination.
type Output struct {
	log     *slog.Logger
	address string
	burst   int
	conn    net.Conn
	dgram   []byte
}

func newOutput(args plugin.Args, log *slog.Logger) (plugin.Plugin, error) {
	addr := args.Get("address", "")
	if addr == "" {
		return nil, fmt.Errorf("udp output: address is required")
	}
	burst := packetsPerDatagram
	if v := args.Get("packet_burst", ""); v != "" {
		b, err := strconv.Atoi(v)
		if err != nil || b < 1 || b*ts.PacketSize > 65507 {
			return nil, fmt.Errorf("udp output: invalid packet_burst %q", v)
		}
		burst = b
	}
	return &Output{
		log:     log,
		address: addr,
		burst:   burst,
		dgram:   make([]byte, 0, burst*ts.PacketSize),
	}, nil
}

// Name implements plugin.Plugin.
func (o *Output) Name() string { return "udp" }

// Start resolves and connects the UDP socket.
func (o *Output) Start() error {
	conn, err := net.Dial("udp", o.address)
	if err != nil {
		return fmt.Errorf("udp output: dial %s: %w", o.address, err)
	}
	o.conn = conn
	o.log.Info("sending", "address", o.address, "packet_burst", o.burst)
	return nil
}

// Stop flushes the pending partial datagram and closes the socket.
func (o *Output) Stop() error {
	var err error
	if len(o.dgram) > 0 {
		_, err = o.conn.Write(o.dgram)
		o.dgram = o.dgram[:0]
	}
	if o.conn != nil {
		if cerr := o.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Send implements plugin.Output.
func (o *Output) Send(pkts []ts.Packet) error {
	for i := range pkts {
		o.dgram = append(o.dgram, pkts[i][:]...)
		if len(o.dgram) == o.burst*ts.PacketSize {
			if _, err := o.conn.Write(o.dgram); err != nil {
				return fmt.Errorf("udp output: write: %w", err)
			}
			o.dgram = o.dgram[:0]
		}
	}
	return nil
}
