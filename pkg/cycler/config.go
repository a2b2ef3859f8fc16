/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

// Package cycler implements the zero-downtime replacement of a node
// pool: label and cordon the current nodes, upscale the autoscaling
// group, drain and terminate the retiring nodes in zone-interleaved
// batches, then downscale back to the original size
package cycler

import (
	"fmt"
	"io"
	"os"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/balance"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/fileutils"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/retrier"
)

// Defaults applied by Default for the fields left unset
const (
	DefaultBatchSize    = 3
	DefaultDrainTimeout = 10 * time.Minute
	DefaultPollInterval = 15 * time.Second
	DefaultSettleDelay  = 30 * time.Second
	DefaultSnapshotFile = "node-cycler-state.json"
)

// Config drives a roll. A Config is immutable once the roll starts:
// every phase receives it by value and nothing in the package keeps
// mutable state outside the Cycler it builds.
type Config struct {
	// Role selects the node pool to roll, matching the
	// node-role.kubernetes.io/<role> label
	Role string

	// RetireTime is the identity token of the roll. Nodes labeled
	// with it are the ones this roll retires; reusing the token of an
	// interrupted roll resumes it.
	RetireTime string

	// BatchSize is the number of nodes drained between two waits for
	// replacement capacity. Must be a positive multiple of the
	// required zone count so every batch retires evenly across zones.
	BatchSize int

	// DrainTimeout bounds the eviction wait per node. A drain that
	// times out is logged and the node is terminated anyway.
	DrainTimeout time.Duration

	// PollInterval is the pause between checks while waiting for
	// nodes to become ready or the group to settle
	PollInterval time.Duration

	// SettleDelay is how long to wait after the last termination
	// before polling the group for its final size
	SettleDelay time.Duration

	// Tolerance is the maximum per-zone node count spread accepted
	// during the balance checks
	Tolerance int

	// RetryAttempts and RetryDelay configure the retry loop wrapped
	// around the cloud discovery and mutation calls
	RetryAttempts int
	RetryDelay    time.Duration

	// SnapshotFile is the path of the snapshot store backing the
	// progress reports and the status subcommand
	SnapshotFile string

	// ReportVerbose lists every added and removed node and instance
	// in the progress reports
	ReportVerbose bool

	// ReportWriter receives the progress reports
	ReportWriter io.Writer
}

// fileConfig is the YAML shape of a configuration file. Durations are
// strings in Go syntax ("10m", "30s").
type fileConfig struct {
	Role          string `json:"role"`
	RetireTime    string `json:"retireTime"`
	BatchSize     int    `json:"batchSize"`
	DrainTimeout  string `json:"drainTimeout"`
	PollInterval  string `json:"pollInterval"`
	SettleDelay   string `json:"settleDelay"`
	Tolerance     int    `json:"tolerance"`
	RetryAttempts int    `json:"retryAttempts"`
	RetryDelay    string `json:"retryDelay"`
	SnapshotFile  string `json:"snapshotFile"`
	ReportVerbose bool   `json:"reportVerbose"`
}

// LoadFile reads a configuration file into a Config. Fields absent
// from the file are left at their zero value for Default to fill.
func LoadFile(path string) (Config, error) {
	var result Config

	content, err := fileutils.ReadFile(path)
	if err != nil {
		return result, fmt.Errorf("while reading configuration file %v: %w", path, err)
	}
	if content == nil {
		return result, fmt.Errorf("configuration file %v does not exist", path)
	}

	var file fileConfig
	if err := yaml.Unmarshal(content, &file); err != nil {
		return result, fmt.Errorf("while decoding configuration file %v: %w", path, err)
	}

	result.Role = file.Role
	result.RetireTime = file.RetireTime
	result.BatchSize = file.BatchSize
	result.Tolerance = file.Tolerance
	result.RetryAttempts = file.RetryAttempts
	result.SnapshotFile = file.SnapshotFile
	result.ReportVerbose = file.ReportVerbose

	durations := []struct {
		name   string
		value  string
		target *time.Duration
	}{
		{"drainTimeout", file.DrainTimeout, &result.DrainTimeout},
		{"pollInterval", file.PollInterval, &result.PollInterval},
		{"settleDelay", file.SettleDelay, &result.SettleDelay},
		{"retryDelay", file.RetryDelay, &result.RetryDelay},
	}
	for _, duration := range durations {
		if duration.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(duration.value)
		if err != nil {
			return result, fmt.Errorf("invalid %v in %v: %w", duration.name, path, err)
		}
		*duration.target = parsed
	}

	return result, nil
}

// Default fills the unset optional fields with their defaults
func (c *Config) Default() {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.Tolerance == 0 {
		c.Tolerance = balance.DefaultTolerance
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = retrier.DefaultAttempts
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = retrier.DefaultDelay
	}
	if c.SnapshotFile == "" {
		c.SnapshotFile = DefaultSnapshotFile
	}
	if c.ReportWriter == nil {
		c.ReportWriter = os.Stdout
	}
}

// Validate rejects a Config no roll should run with
func (c *Config) Validate() error {
	if c.Role == "" {
		return fmt.Errorf("a node role is required")
	}
	if c.RetireTime == "" {
		return fmt.Errorf("a retire time is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.BatchSize%balance.RequiredZones != 0 {
		return fmt.Errorf("batch size must be a multiple of %d to retire evenly across zones, got %d",
			balance.RequiredZones, c.BatchSize)
	}
	return nil
}
