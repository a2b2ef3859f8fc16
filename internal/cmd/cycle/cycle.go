/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

package cycle

import (
	"context"
	"fmt"

	"github.com/logrusorgru/aurora/v3"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/cloud"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/cycler"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/kube"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/log"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/snapshot"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/versions"
)

// clients groups the API clients a roll talks to
type clients struct {
	kube  *kube.Client
	cloud *cloud.Client
}

// Cycle runs one roll with the given configuration
func Cycle(
	ctx context.Context,
	configFlags *genericclioptions.ConfigFlags,
	cfg cycler.Config,
	awsProfile, awsRegion string,
) error {
	apiClients, err := newClients(configFlags, awsProfile, awsRegion)
	if err != nil {
		return err
	}

	store, err := snapshot.NewStore(cfg.SnapshotFile)
	if err != nil {
		return err
	}

	log.Info("Cycling node pool",
		"role", cfg.Role,
		"retireTime", cfg.RetireTime,
		"batchSize", cfg.BatchSize,
		"snapshotFile", cfg.SnapshotFile)

	if err := cycler.New(cfg, apiClients.kube, apiClients.cloud, store).Run(ctx); err != nil {
		return err
	}

	fmt.Println(aurora.Green(
		fmt.Sprintf("Node pool %v successfully cycled, retire time %v", cfg.Role, cfg.RetireTime)))
	return nil
}

// newClients builds the Kubernetes and cloud clients from the kubectl
// style configuration flags and the AWS shared configuration
func newClients(configFlags *genericclioptions.ConfigFlags, awsProfile, awsRegion string) (*clients, error) {
	restConfig, err := configFlags.ToRawKubeConfigLoader().ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("while loading the Kubernetes configuration: %w", err)
	}
	restConfig.UserAgent = fmt.Sprintf("node-cycler/v%s (%s)", versions.Version, versions.BuildCommit)

	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)

	crClient, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("while creating the Kubernetes client: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("while creating the Kubernetes clientset: %w", err)
	}

	session, err := cloud.NewSession(awsProfile, awsRegion)
	if err != nil {
		return nil, fmt.Errorf("while creating the AWS session: %w", err)
	}

	return &clients{
		kube:  kube.NewClient(crClient, clientset),
		cloud: cloud.NewClient(session),
	}, nil
}
