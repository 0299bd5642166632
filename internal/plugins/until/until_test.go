package until

import (
	"io"
	"log/slog"
	"testing"

	"github.com/zsiec/tschain/internal/plugin"
	"github.com/zsiec/tschain/internal/ts"
)

type fakeHost struct {
	opted      bool
	terminates int
}

func (h *fakeHost) UseJointTermination(on bool) { h.opted = on }
func (h *fakeHost) JointTerminate()             { h.terminates++ }
func (h *fakeHost) TotalPackets() uint64        { return 0 }

func build(t *testing.T, args plugin.Args) (*Processor, *fakeHost) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pl, err := newProcessor(args, log)
	if err != nil {
		t.Fatalf("newProcessor: %v", err)
	}
	p := pl.(*Processor)
	h := &fakeHost{}
	p.AttachHost(h)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p, h
}

func TestStopsAfterLimit(t *testing.T) {
	t.Parallel()

	p, h := build(t, plugin.Args{"packets": "3"})
	if h.opted {
		t.Error("non-joint mode must not opt into joint termination")
	}

	var pkt ts.Packet
	for i := 0; i < 3; i++ {
		if got := p.Process(&pkt); got != plugin.StatusKeep {
			t.Fatalf("Process(%d): got %v, want keep", i, got)
		}
	}
	if got := p.Process(&pkt); got != plugin.StatusStop {
		t.Errorf("Process beyond limit: got %v, want stop", got)
	}
}

func TestJointVotesOnce(t *testing.T) {
	t.Parallel()

	p, h := build(t, plugin.Args{"packets": "2", "joint": "true"})
	if !h.opted {
		t.Fatal("joint mode did not opt into joint termination")
	}

	var pkt ts.Packet
	for i := 0; i < 5; i++ {
		if got := p.Process(&pkt); got != plugin.StatusKeep {
			t.Fatalf("Process(%d): got %v, want keep (joint mode never stops unilaterally)", i, got)
		}
	}
	if h.terminates != 1 {
		t.Errorf("JointTerminate calls: got %d, want 1", h.terminates)
	}
}

func TestBadConfig(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	for name, args := range map[string]plugin.Args{
		"missing": {},
		"zero":    {"packets": "0"},
		"junk":    {"packets": "many"},
	} {
		if _, err := newProcessor(args, log); err == nil {
			t.Errorf("%s: got nil error", name)
		}
	}
}
