/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

// Package balance verifies that the nodes of a role stay evenly
// distributed across the availability zones
package balance

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/kube"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/log"
)

// RequiredZones is the number of availability zones a rollable node
// pool must span
const RequiredZones = 3

// DefaultTolerance is the maximum node count difference between any
// two zones that is accepted, with a warning, during a roll
const DefaultTolerance = 1

// NodeLister is the subset of the node client the checker needs
type NodeLister interface {
	ListNodes(ctx context.Context, selector map[string]string) ([]kube.Node, error)
}

// Error reports a zone topology that a roll must not touch. It is
// never remediated automatically: a human has to look at the cluster.
type Error struct {
	Counts map[string]int
	Reason string
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("zone balance violated: %v (nodes per zone: %v)", e.Reason, e.Counts)
}

// CountByZone returns the number of nodes in each zone
func CountByZone(nodes []kube.Node) map[string]int {
	counts := make(map[string]int)
	for _, node := range nodes {
		counts[node.Zone]++
	}
	return counts
}

// Check verifies the per-zone node counts: exactly RequiredZones zones
// must be present, and all pairwise count differences must stay within
// tolerance. Equal counts pass silently, a spread within tolerance
// passes with a warning, anything else returns an Error.
func Check(counts map[string]int, tolerance int) error {
	if len(counts) != RequiredZones {
		return &Error{
			Counts: counts,
			Reason: fmt.Sprintf("expected %d zones, found %d", RequiredZones, len(counts)),
		}
	}

	min, max := -1, -1
	for _, count := range counts {
		if min == -1 || count < min {
			min = count
		}
		if count > max {
			max = count
		}
	}

	spread := max - min
	switch {
	case spread == 0:
		return nil
	case spread <= tolerance:
		log.Warning("Zone spread within tolerance", "nodesPerZone", counts, "spread", spread)
		return nil
	default:
		return &Error{
			Counts: counts,
			Reason: fmt.Sprintf("count spread %d exceeds tolerance %d", spread, tolerance),
		}
	}
}

// Assert fetches the nodes matching the selector and checks their zone
// balance
func Assert(ctx context.Context, lister NodeLister, selector map[string]string, tolerance int) error {
	nodes, err := lister.ListNodes(ctx, selector)
	if err != nil {
		return err
	}

	counts := CountByZone(nodes)
	log.Debug("Asserting zone balance", "nodesPerZone", counts)
	return Check(counts, tolerance)
}

// AwaitZoneLabels blocks until every node matching the selector has a
// populated zone label. The cloud controller fills the topology labels
// asynchronously after node registration, so right after a scale-up
// some nodes may not carry one yet.
func AwaitZoneLabels(ctx context.Context, lister NodeLister, selector map[string]string, interval time.Duration) error {
	return wait.PollImmediateUntil(interval, func() (bool, error) {
		nodes, err := lister.ListNodes(ctx, selector)
		if err != nil {
			return false, err
		}

		for _, node := range nodes {
			if node.Zone == "" {
				log.Debug("Waiting for zone labels", "node", node.Name)
				return false, nil
			}
		}
		return true, nil
	}, ctx.Done())
}
