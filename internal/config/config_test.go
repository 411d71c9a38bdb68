package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	body := "loops: 10\nsegment_path: /dev/shm/bench\ntrace_path: /tmp/doorbells.trace\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Loops != 10 || cfg.SegmentPath != "/dev/shm/bench" || cfg.TracePath != "/tmp/doorbells.trace" {
		t.Errorf("loaded %+v, overrides not applied", cfg)
	}
	if cfg.SegmentSize != Default().SegmentSize {
		t.Errorf("segment_size = %d, want default %d", cfg.SegmentSize, Default().SegmentSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config invalid: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero segment", func(c *Config) { c.SegmentSize = 0 }},
		{"zero loops", func(c *Config) { c.Loops = 0 }},
		{"payload too large", func(c *Config) { c.PayloadBytes = c.SegmentSize + 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
