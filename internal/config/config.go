// Package config loads the benchmark harness configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config describes one benchmark run: the shared memory segment to use and
// the shape of the workload driven over it.
type Config struct {
	// SegmentPath is the backing file for the shared memory segment.
	// Empty means an anonymous in-process segment.
	SegmentPath string `yaml:"segment_path"`
	// SegmentSize is the segment span in bytes.
	SegmentSize int64 `yaml:"segment_size"`
	// Loops is how many write/verify round trips to run.
	Loops int `yaml:"loops"`
	// PayloadBytes is the size of each round trip's payload.
	PayloadBytes int64 `yaml:"payload_bytes"`
	// TracePath, when set, records every doorbell to a binary trace file.
	TracePath string `yaml:"trace_path"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		SegmentSize:  1 << 20,
		Loops:        256,
		PayloadBytes: 4096,
	}
}

// Load reads a YAML configuration file. Fields absent from the file keep
// their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the benchmark cannot run.
func (c Config) Validate() error {
	if c.SegmentSize <= 0 {
		return fmt.Errorf("segment_size %d must be positive", c.SegmentSize)
	}
	if c.Loops <= 0 {
		return fmt.Errorf("loops %d must be positive", c.Loops)
	}
	if c.PayloadBytes <= 0 || c.PayloadBytes > c.SegmentSize {
		return fmt.Errorf("payload_bytes %d must be in (0, %d]", c.PayloadBytes, c.SegmentSize)
	}
	return nil
}
