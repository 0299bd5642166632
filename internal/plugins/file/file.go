// Package file provides the default input and output plugins: raw
// 188-byte packet files, with "-" meaning standard input or output.
package file

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/zsiec/tschain/internal/plugin"
	"github.com/zsiec/tschain/internal/ts"
)

func init() {
	plugin.RegisterInput("file", newInput)
	plugin.RegisterOutput("file", newOutput)
}

// Input reads packets from a file or standard input.
type Input struct {
	log     *slog.Logger
	path    string
	f       *os.File
	r       *bufio.Reader
	aborted atomic.Bool
}

func newInput(args plugin.Args, log *slog.Logger) (plugin.Plugin, error) {
	return &Input{log: log, path: args.Get("path", "-")}, nil
}

// Name implements plugin.Plugin.
func (i *Input) Name() string { return "file" }

// Start opens the file.
func (i *Input) Start() error {
	if i.path == "-" {
		i.f = os.Stdin
	} else {
		f, err := os.Open(i.path)
		if err != nil {
			return fmt.Errorf("file input: %w", err)
		}
		i.f = f
	}
	i.r = bufio.NewReaderSize(i.f, 64*ts.PacketSize)
	i.log.Info("reading", "path", i.path)
	return nil
}

// Stop closes the file.
func (i *Input) Stop() error {
	if i.f != nil && i.f != os.Stdin {
		return i.f.Close()
	}
	return nil
}

// Receive implements plugin.Input. Short files are truncated to whole
// packets; a trailing partial packet is discarded.
func (i *Input) Receive(pkts []ts.Packet) (int, error) {
	for n := range pkts {
		if i.aborted.Load() {
			return n, nil
		}
		if _, err := io.ReadFull(i.r, pkts[n][:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return n, nil
			}
			return n, fmt.Errorf("file input: %w", err)
		}
	}
	return len(pkts), nil
}

// Bitrate implements plugin.Input; files carry no rate of their own.
func (i *Input) Bitrate() uint64 { return 0 }

// Abort implements plugin.Input.
func (i *Input) Abort() {
	i.aborted.Store(true)
	if i.f != nil && i.f != os.Stdin {
		i.f.Close()
	}
}

// Output writes packets to a file or standard output.
type Output struct {
	log  *slog.Logger
	path string
	f    *os.File
	w    *bufio.Writer
}

func newOutput(args plugin.Args, log *slog.Logger) (plugin.Plugin, error) {
	return &Output{log: log, path: args.Get("path", "-")}, nil
}

// Name implements plugin.Plugin.
func (o *Output) Name() string { return "file" }

// Start creates the file.
func (o *Output) Start() error {
	if o.path == "-" {
		o.f = os.Stdout
	} else {
		f, err := os.Create(o.path)
		if err != nil {
			return fmt.Errorf("file output: %w", err)
		}
		o.f = f
	}
	o.w = bufio.NewWriterSize(o.f, 64*ts.PacketSize)
	o.log.Info("writing", "path", o.path)
	return nil
}

// Stop flushes and closes the file.
func (o *Output) Stop() error {
	if o.w == nil {
		return nil
	}
	err := o.w.Flush()
	if o.f != os.Stdout {
		if cerr := o.f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Send implements plugin.Output.
func (o *Output) Send(pkts []ts.Packet) error {
	for i := range pkts {
		if _, err := o.w.Write(pkts[i][:]); err != nil {
			return fmt.Errorf("file output: %w", err)
		}
	}
	return nil
}
