/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

// Package cycle implements the "cycle" subcommand, running one roll of
// one node pool
package cycle

import (
	"time"

	"github.com/spf13/cobra"
	"k8s.io/cli-runtime/pkg/genericclioptions"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/balance"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/cycler"
)

// NewCmd creates the "cycle" subcommand
func NewCmd(configFlags *genericclioptions.ConfigFlags) *cobra.Command {
	var (
		flagCfg    cycler.Config
		configFile string
		awsProfile string
		awsRegion  string
	)

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Replaces every node of a pool with zero downtime",
		Long: "This command labels and cordons the nodes of the selected pool, grows the " +
			"backing autoscaling group by one batch, then drains and terminates the retiring " +
			"nodes rotating through the availability zones, waiting for replacement capacity " +
			"at every batch boundary. An interrupted roll is resumed by passing its retire time.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, configFile, flagCfg)
			if err != nil {
				return err
			}
			return Cycle(cmd.Context(), configFlags, cfg, awsProfile, awsRegion)
		},
	}

	addRollFlags(cmd, &flagCfg)
	cmd.Flags().StringVar(&configFile, "config", "",
		"YAML configuration file; flags set on the command line win over it")
	cmd.Flags().StringVar(&awsProfile, "aws-profile", "",
		"AWS shared configuration profile to use")
	cmd.Flags().StringVar(&awsRegion, "aws-region", "",
		"AWS region of the autoscaling group, when not taken from the shared configuration")

	return cmd
}

// addRollFlags binds the roll configuration to the command's flags
func addRollFlags(cmd *cobra.Command, flagCfg *cycler.Config) {
	cmd.Flags().StringVar(&flagCfg.Role, "role", "",
		"role of the node pool to cycle, matching the node-role.kubernetes.io/<role> label")
	cmd.Flags().StringVar(&flagCfg.RetireTime, "retire-time", "",
		"identity token of the roll; defaults to the current time, "+
			"pass the token of an interrupted roll to resume it")
	cmd.Flags().IntVar(&flagCfg.BatchSize, "batch-size", cycler.DefaultBatchSize,
		"nodes drained between two waits for replacement capacity; "+
			"must be a positive multiple of the zone count")
	cmd.Flags().DurationVar(&flagCfg.DrainTimeout, "drain-timeout", cycler.DefaultDrainTimeout,
		"how long to wait for the pods of a node to be evicted before terminating it anyway")
	cmd.Flags().DurationVar(&flagCfg.PollInterval, "poll-interval", cycler.DefaultPollInterval,
		"pause between checks while waiting for nodes or the group")
	cmd.Flags().DurationVar(&flagCfg.SettleDelay, "settle-delay", cycler.DefaultSettleDelay,
		"wait after the last termination before polling the group for its final size")
	cmd.Flags().IntVar(&flagCfg.Tolerance, "tolerance", balance.DefaultTolerance,
		"maximum per-zone node count spread accepted by the balance checks")
	cmd.Flags().StringVar(&flagCfg.SnapshotFile, "snapshot-file", cycler.DefaultSnapshotFile,
		"path of the snapshot store backing the progress reports")
	cmd.Flags().BoolVar(&flagCfg.ReportVerbose, "verbose-reports", false,
		"list every added and removed node and instance in the progress reports")
}

// buildConfig merges the configuration file, the flags and the
// defaults. A flag set on the command line always wins, a file value
// beats the flag's default.
func buildConfig(cmd *cobra.Command, configFile string, flags cycler.Config) (cycler.Config, error) {
	cfg := cycler.Config{}
	if configFile != "" {
		var err error
		if cfg, err = cycler.LoadFile(configFile); err != nil {
			return cfg, err
		}
	}

	if cmd.Flags().Changed("role") || cfg.Role == "" {
		cfg.Role = flags.Role
	}
	if cmd.Flags().Changed("retire-time") || cfg.RetireTime == "" {
		cfg.RetireTime = flags.RetireTime
	}
	if cmd.Flags().Changed("batch-size") || cfg.BatchSize == 0 {
		cfg.BatchSize = flags.BatchSize
	}
	if cmd.Flags().Changed("drain-timeout") || cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = flags.DrainTimeout
	}
	if cmd.Flags().Changed("poll-interval") || cfg.PollInterval == 0 {
		cfg.PollInterval = flags.PollInterval
	}
	if cmd.Flags().Changed("settle-delay") || cfg.SettleDelay == 0 {
		cfg.SettleDelay = flags.SettleDelay
	}
	if cmd.Flags().Changed("tolerance") || cfg.Tolerance == 0 {
		cfg.Tolerance = flags.Tolerance
	}
	if cmd.Flags().Changed("snapshot-file") || cfg.SnapshotFile == "" {
		cfg.SnapshotFile = flags.SnapshotFile
	}
	if cmd.Flags().Changed("verbose-reports") {
		cfg.ReportVerbose = flags.ReportVerbose
	}

	if cfg.RetireTime == "" {
		// colons are not valid in label values, so no RFC 3339 here
		cfg.RetireTime = time.Now().UTC().Format("20060102-150405")
	}

	cfg.Default()
	return cfg, cfg.Validate()
}
