package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// PluginSpec names one plugin and its arguments.
type PluginSpec struct {
	Plugin string            `yaml:"plugin"`
	Args   map[string]string `yaml:"args"`
}

// FileConfig is the YAML configuration file shape.
type FileConfig struct {
	LogLevel    string `yaml:"log_level"`
	ControlAddr string `yaml:"control_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	BufferPackets   int      `yaml:"buffer_packets"`
	MaxFlushPackets int      `yaml:"max_flush_packets"`
	Bitrate         uint64   `yaml:"bitrate"`
	BitrateInterval Duration `yaml:"bitrate_interval"`
	WaitTimeout     Duration `yaml:"wait_timeout"`

	StartStuffing int    `yaml:"start_stuffing"`
	StopStuffing  int    `yaml:"stop_stuffing"`
	InputStuffing string `yaml:"input_stuffing"` // "nullpkt/inpkt"

	IgnoreJointTermination bool `yaml:"ignore_joint_termination"`

	Input      PluginSpec   `yaml:"input"`
	Processors []PluginSpec `yaml:"processors"`
	Output     PluginSpec   `yaml:"output"`
}

// loadConfig reads and parses the YAML configuration file.
func loadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// parseStuffing parses a "nullpkt/inpkt" cycle spec.
func parseStuffing(s string) (nullpkt, inpkt int, err error) {
	if s == "" {
		return 0, 0, nil
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("stuffing must be nullpkt/inpkt, got %q", s)
	}
	nullpkt, err = strconv.Atoi(parts[0])
	if err == nil {
		inpkt, err = strconv.Atoi(parts[1])
	}
	if err != nil || nullpkt < 1 || inpkt < 1 {
		return 0, 0, fmt.Errorf("invalid stuffing cycle %q", s)
	}
	return nullpkt, inpkt, nil
}

// parsePluginSpec parses a command-line plugin spec of the form
// "name" or "name:key=value,key=value".
func parsePluginSpec(s string) (PluginSpec, error) {
	name, rest, _ := strings.Cut(s, ":")
	if name == "" {
		return PluginSpec{}, fmt.Errorf("empty plugin spec %q", s)
	}
	spec := PluginSpec{Plugin: name, Args: map[string]string{}}
	if rest == "" {
		return spec, nil
	}
	for _, kv := range strings.Split(rest, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return PluginSpec{}, fmt.Errorf("plugin argument must be key=value, got %q", kv)
		}
		spec.Args[k] = v
	}
	return spec, nil
}
