package pidfilter

import (
	"io"
	"log/slog"
	"testing"

	"github.com/zsiec/tschain/internal/plugin"
	"github.com/zsiec/tschain/internal/ts"
)

func packetWithPID(pid uint16) ts.Packet {
	var p ts.Packet
	p[0] = ts.SyncByte
	p[1] = byte(pid >> 8)
	p[2] = byte(pid)
	p[3] = 0x10
	return p
}

func build(t *testing.T, args plugin.Args) plugin.Processor {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := plugin.NewProcessor("pidfilter", args, log)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p
}

func TestKeepMode(t *testing.T) {
	t.Parallel()

	p := build(t, plugin.Args{"pids": "0x100, 0x101, 8191"})

	tests := []struct {
		pid  uint16
		want plugin.Status
	}{
		{0x100, plugin.StatusKeep},
		{0x101, plugin.StatusKeep},
		{ts.PIDNull, plugin.StatusKeep},
		{0x102, plugin.StatusDrop},
		{0, plugin.StatusDrop},
	}
	for _, tt := range tests {
		pkt := packetWithPID(tt.pid)
		if got := p.Process(&pkt); got != tt.want {
			t.Errorf("Process(pid %#x): got %v, want %v", tt.pid, got, tt.want)
		}
	}
}

func TestDropMode(t *testing.T) {
	t.Parallel()

	p := build(t, plugin.Args{"pids": "0x40", "mode": "drop"})

	pkt := packetWithPID(0x40)
	if got := p.Process(&pkt); got != plugin.StatusDrop {
		t.Errorf("Process(listed pid): got %v, want drop", got)
	}
	pkt = packetWithPID(0x41)
	if got := p.Process(&pkt); got != plugin.StatusKeep {
		t.Errorf("Process(unlisted pid): got %v, want keep", got)
	}
}

func TestBadConfig(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	for name, args := range map[string]plugin.Args{
		"no pids":      {},
		"bad number":   {"pids": "0x100,zebra"},
		"out of range": {"pids": "8192"},
		"bad mode":     {"pids": "0x100", "mode": "invert"},
	} {
		if _, err := plugin.NewProcessor("pidfilter", args, log); err == nil {
			t.Errorf("%s: got nil error", name)
		}
	}
}
