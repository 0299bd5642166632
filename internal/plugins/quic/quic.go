// Package quic provides an output plugin that ships the transport stream
// over a single QUIC stream to a remote receiver.
package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/tschain/internal/plugin"
	"github.com/zsiec/tschain/internal/ts"
)

const dialTimeout = 10 * time.Second

// alpn is the application protocol negotiated with the receiver.
const alpn = "tschain"

func init() {
	plugin.RegisterOutput("quic", newOutput)
}

// Output dials a QUIC endpoint at Start and writes raw 188-byte packets
// to one bidirectional stream.
type Output struct {
	log      *slog.Logger
	address  string
	insecure bool
	conn     quic.Connection
	stream   quic.Stream
}

func newOutput(args plugin.Args, log *slog.Logger) (plugin.Plugin, error) {
	addr := args.Get("address", "")
	if addr == "" {
		return nil, fmt.Errorf("quic output: address is required")
	}
	return &Output{
		log:      log,
		address:  addr,
		insecure: args.Get("insecure", "false") == "true",
	}, nil
}

// Name implements plugin.Plugin.
func (o *Output) Name() string { return "quic" }

// Start dials the receiver and opens the packet stream.
func (o *Output) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	tlsConf := &tls.Config{
		NextProtos:         []string{alpn},
		InsecureSkipVerify: o.insecure,
	}
	conn, err := quic.DialAddr(ctx, o.address, tlsConf, &quic.Config{})
	if err != nil {
		return fmt.Errorf("quic output: dial %s: %w", o.address, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return fmt.Errorf("quic output: open stream: %w", err)
	}
	o.conn = conn
	o.stream = stream
	o.log.Info("connected", "address", o.address)
	return nil
}

// Stop closes the stream and the connection.
func (o *Output) Stop() error {
	if o.stream != nil {
		o.stream.Close()
	}
	if o.conn != nil {
		return o.conn.CloseWithError(0, "done")
	}
	return nil
}

// Send implements plugin.Output.
func (o *Output) Send(pkts []ts.Packet) error {
	for i := range pkts {
		if _, err := o.stream.Write(pkts[i][:]); err != nil {
			return fmt.Errorf("quic output: write: %w", err)
		}
	}
	return nil
}
