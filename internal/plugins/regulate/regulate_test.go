package regulate

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/zsiec/tschain/internal/plugin"
	"github.com/zsiec/tschain/internal/ts"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPacesToBitrate(t *testing.T) {
	t.Parallel()

	// 1504000 b/s is 1000 packets per second; with burst 10, processing
	// 60 packets must take roughly 50ms.
	pl, err := plugin.NewProcessor("regulate",
		plugin.Args{"bitrate": "1504000", "burst": "10"}, discard())
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	if err := pl.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pl.Stop()

	var pkt ts.Packet
	start := time.Now()
	for i := 0; i < 60; i++ {
		if got := pl.Process(&pkt); got != plugin.StatusKeep {
			t.Fatalf("Process(%d): got %v, want keep", i, got)
		}
	}
	elapsed := time.Since(start)
	if elapsed < 25*time.Millisecond {
		t.Errorf("60 packets passed in %v, pacing not applied", elapsed)
	}
}

func TestStopEndsBlockedStream(t *testing.T) {
	t.Parallel()

	// One packet per second: the second Process call blocks until Stop
	// releases it.
	pl, err := plugin.NewProcessor("regulate",
		plugin.Args{"bitrate": "1504", "burst": "1"}, discard())
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	if err := pl.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var pkt ts.Packet
	if got := pl.Process(&pkt); got != plugin.StatusKeep {
		t.Fatalf("first Process: got %v, want keep", got)
	}

	done := make(chan plugin.Status, 1)
	go func() {
		done <- pl.Process(&pkt)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := pl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case got := <-done:
		if got != plugin.StatusStop {
			t.Errorf("blocked Process after Stop: got %v, want stop", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Process still blocked after Stop")
	}
}

func TestBadConfig(t *testing.T) {
	t.Parallel()

	for name, args := range map[string]plugin.Args{
		"missing bitrate": {},
		"zero bitrate":    {"bitrate": "0"},
		"junk bitrate":    {"bitrate": "fast"},
		"zero burst":      {"bitrate": "1000000", "burst": "0"},
	} {
		if _, err := plugin.NewProcessor("regulate", args, discard()); err == nil {
			t.Errorf("%s: got nil error", name)
		}
	}
}
