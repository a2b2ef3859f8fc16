/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

// The node-cycler command replaces the nodes of a Kubernetes node pool
// backed by an AWS autoscaling group, with zero downtime
package main

import (
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/EnterpriseDB/kube-node-cycler/internal/cmd/cycle"
	"github.com/EnterpriseDB/kube-node-cycler/internal/cmd/status"
	"github.com/EnterpriseDB/kube-node-cycler/internal/cmd/versions"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/log"
)

func main() {
	logFlags := &log.Flags{}
	configFlags := genericclioptions.NewConfigFlags(true)

	rootCmd := &cobra.Command{
		Use:          "node-cycler",
		Short:        "Replaces the nodes of a Kubernetes node pool with zero downtime",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logFlags.ConfigureLogging()

			// every log line of a run carries the same id, so the runs
			// sharing a log destination can be told apart
			log.SetLogger(log.Log.WithValues("runID", uuid.NewString()))
		},
	}

	logFlags.AddFlags(rootCmd.PersistentFlags())
	configFlags.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(cycle.NewCmd(configFlags))
	rootCmd.AddCommand(status.NewCmd())
	rootCmd.AddCommand(versions.NewCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
