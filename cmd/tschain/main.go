// Command tschain runs a pluggable transport-stream packet pipeline: one
// input plugin, a chain of processors, and one output plugin around a
// shared circular packet buffer.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/tschain/internal/control"
	"github.com/zsiec/tschain/internal/metrics"
	"github.com/zsiec/tschain/internal/pipeline"
	"github.com/zsiec/tschain/internal/plugin"

	// Built-in plugins register themselves.
	_ "github.com/zsiec/tschain/internal/plugins/file"
	_ "github.com/zsiec/tschain/internal/plugins/pidfilter"
	_ "github.com/zsiec/tschain/internal/plugins/quic"
	_ "github.com/zsiec/tschain/internal/plugins/regulate"
	_ "github.com/zsiec/tschain/internal/plugins/srt"
	_ "github.com/zsiec/tschain/internal/plugins/udp"
	_ "github.com/zsiec/tschain/internal/plugins/until"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath      = flag.StringP("config", "c", "", "YAML configuration file")
		inputSpec       = flag.StringP("input", "I", "", "input plugin, name:key=value,...")
		procSpecs       = flag.StringArrayP("processor", "P", nil, "processor plugin, repeatable")
		outputSpec      = flag.StringP("output", "O", "", "output plugin, name:key=value,...")
		bufferPackets   = flag.Int("buffer-packets", 0, "shared buffer capacity in packets")
		maxFlush        = flag.Int("max-flushed-packets", 0, "max packets per I/O operation")
		bitrate         = flag.Uint64("bitrate", 0, "fixed input bitrate, bits/second (0 = discover)")
		bitrateInterval = flag.Duration("bitrate-adjust-interval", 0, "bitrate re-evaluation period")
		waitTimeout     = flag.Duration("wait-timeout", 0, "abort an executor idle for this long (0 = never)")
		startStuffing   = flag.Int("add-start-stuffing", 0, "null packets before the first source packet")
		stopStuffing    = flag.Int("add-stop-stuffing", 0, "null packets after the last source packet")
		inputStuffing   = flag.String("add-input-stuffing", "", "nullpkt/inpkt filler cycle")
		ignoreJoint     = flag.Bool("ignore-joint-termination", false, "ignore plugin joint termination requests")
		controlAddr     = flag.String("control", "", "control channel listen address")
		metricsAddr     = flag.String("metrics", "", "Prometheus metrics listen address")
		logLevel        = flag.String("log-level", "", "debug, info, warn or error")
		showVersion     = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("tschain", version)
		return nil
	}

	cfg := &FileConfig{}
	if *configPath != "" {
		var err error
		if cfg, err = loadConfig(*configPath); err != nil {
			return err
		}
	}

	// Command-line values override the file.
	if *inputSpec != "" {
		spec, err := parsePluginSpec(*inputSpec)
		if err != nil {
			return err
		}
		cfg.Input = spec
	}
	if len(*procSpecs) > 0 {
		cfg.Processors = nil
		for _, s := range *procSpecs {
			spec, err := parsePluginSpec(s)
			if err != nil {
				return err
			}
			cfg.Processors = append(cfg.Processors, spec)
		}
	}
	if *outputSpec != "" {
		spec, err := parsePluginSpec(*outputSpec)
		if err != nil {
			return err
		}
		cfg.Output = spec
	}
	if *bufferPackets != 0 {
		cfg.BufferPackets = *bufferPackets
	}
	if *maxFlush != 0 {
		cfg.MaxFlushPackets = *maxFlush
	}
	if *bitrate != 0 {
		cfg.Bitrate = *bitrate
	}
	if *bitrateInterval != 0 {
		cfg.BitrateInterval = Duration(*bitrateInterval)
	}
	if *waitTimeout != 0 {
		cfg.WaitTimeout = Duration(*waitTimeout)
	}
	if *startStuffing != 0 {
		cfg.StartStuffing = *startStuffing
	}
	if *stopStuffing != 0 {
		cfg.StopStuffing = *stopStuffing
	}
	if *inputStuffing != "" {
		cfg.InputStuffing = *inputStuffing
	}
	if *ignoreJoint {
		cfg.IgnoreJointTermination = true
	}
	if *controlAddr != "" {
		cfg.ControlAddr = *controlAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// Default chain: stdin to stdout.
	if cfg.Input.Plugin == "" {
		cfg.Input = PluginSpec{Plugin: "file"}
	}
	if cfg.Output.Plugin == "" {
		cfg.Output = PluginSpec{Plugin: "file"}
	}

	level := new(slog.LevelVar)
	if cfg.LogLevel != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return fmt.Errorf("invalid log level %q", cfg.LogLevel)
		}
		level.Set(lvl)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	stuffNull, stuffIn, err := parseStuffing(cfg.InputStuffing)
	if err != nil {
		return err
	}

	var met *metrics.Collector
	reg := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		met = metrics.New(reg)
	}

	in, err := plugin.NewInput(cfg.Input.Plugin, cfg.Input.Args, log)
	if err != nil {
		return err
	}
	var procs []plugin.Processor
	for _, spec := range cfg.Processors {
		proc, err := plugin.NewProcessor(spec.Plugin, spec.Args, log)
		if err != nil {
			return err
		}
		procs = append(procs, proc)
	}
	out, err := plugin.NewOutput(cfg.Output.Plugin, cfg.Output.Args, log)
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Config{
		BufferPackets:          cfg.BufferPackets,
		MaxFlushPackets:        cfg.MaxFlushPackets,
		FixedBitrate:           cfg.Bitrate,
		BitrateInterval:        time.Duration(cfg.BitrateInterval),
		WaitTimeout:            time.Duration(cfg.WaitTimeout),
		StartStuffing:          cfg.StartStuffing,
		StopStuffing:           cfg.StopStuffing,
		StuffingNull:           stuffNull,
		StuffingIn:             stuffIn,
		IgnoreJointTermination: cfg.IgnoreJointTermination,
		Log:                    log,
		Metrics:                met,
	}, in, procs, out)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	log.Info("tschain starting",
		"version", version,
		"input", cfg.Input.Plugin,
		"processors", len(procs),
		"output", cfg.Output.Plugin,
	)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.ControlAddr != "" {
		srv := control.NewServer(cfg.ControlAddr, p, level, func() {
			log.Error("hard abort, terminating process")
			os.Exit(2)
		}, log)
		g.Go(func() error { return srv.Start(ctx) })
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		msrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		g.Go(func() error {
			<-ctx.Done()
			return msrv.Close()
		})
		g.Go(func() error {
			err := msrv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	runErr := p.Run(ctx)
	cancel()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
