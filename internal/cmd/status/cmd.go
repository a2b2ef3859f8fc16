/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

// Package status implements the "status" subcommand, rendering the
// progress of the roll recorded in a snapshot store
package status

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/cycler"
)

// NewCmd creates the "status" subcommand
func NewCmd() *cobra.Command {
	var snapshotFile string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Shows the progress of the roll recorded in the snapshot file",
		Long: "This command renders what changed between the first snapshot of the roll and " +
			"the most recent one, without touching the cluster or the cloud provider.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Status(snapshotFile, verbose, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&snapshotFile, "snapshot-file", cycler.DefaultSnapshotFile,
		"path of the snapshot store written by the cycle command")
	cmd.Flags().BoolVar(&verbose, "verbose", false,
		"list every added and removed node and instance")

	return cmd
}
