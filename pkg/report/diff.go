/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

// Package report computes and renders the human-readable progress
// reports emitted at every phase boundary of a roll
package report

import (
	"sort"

	"github.com/thoas/go-funk"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/snapshot"
)

// Delta is the difference between two snapshots. Membership is
// computed on identity keys: instance id for instances, name plus
// creation timestamp for nodes.
type Delta struct {
	AddedNodes       []snapshot.NodeRecord
	RemovedNodes     []snapshot.NodeRecord
	AddedInstances   []snapshot.InstanceRecord
	RemovedInstances []snapshot.InstanceRecord
}

// Diff computes which nodes and instances appeared and disappeared
// between two snapshots
func Diff(before, after snapshot.Snapshot) Delta {
	var delta Delta

	beforeNodes := make(map[string]bool, len(before.Nodes))
	for _, node := range before.Nodes {
		beforeNodes[node.Identity()] = true
	}
	afterNodes := make(map[string]bool, len(after.Nodes))
	for _, node := range after.Nodes {
		afterNodes[node.Identity()] = true
	}

	for _, node := range after.Nodes {
		if !beforeNodes[node.Identity()] {
			delta.AddedNodes = append(delta.AddedNodes, node)
		}
	}
	for _, node := range before.Nodes {
		if !afterNodes[node.Identity()] {
			delta.RemovedNodes = append(delta.RemovedNodes, node)
		}
	}

	beforeInstances := make(map[string]bool, len(before.ASG.Instances))
	for _, instance := range before.ASG.Instances {
		beforeInstances[instance.ID] = true
	}
	afterInstances := make(map[string]bool, len(after.ASG.Instances))
	for _, instance := range after.ASG.Instances {
		afterInstances[instance.ID] = true
	}

	for _, instance := range after.ASG.Instances {
		if !beforeInstances[instance.ID] {
			delta.AddedInstances = append(delta.AddedInstances, instance)
		}
	}
	for _, instance := range before.ASG.Instances {
		if !afterInstances[instance.ID] {
			delta.RemovedInstances = append(delta.RemovedInstances, instance)
		}
	}

	return delta
}

// InstanceDeltaByZone returns addedPerZone - removedPerZone for every
// zone touched by the delta
func (d Delta) InstanceDeltaByZone() map[string]int {
	result := make(map[string]int)
	for _, instance := range d.AddedInstances {
		result[instance.Zone]++
	}
	for _, instance := range d.RemovedInstances {
		result[instance.Zone]--
	}
	return result
}

// zonesOf returns the sorted union of the zones appearing in the two
// snapshots
func zonesOf(before, after snapshot.Snapshot) []string {
	var zones []string
	for _, snap := range []snapshot.Snapshot{before, after} {
		for _, node := range snap.Nodes {
			zones = append(zones, node.Zone)
		}
		for _, instance := range snap.ASG.Instances {
			zones = append(zones, instance.Zone)
		}
	}

	zones = funk.UniqString(zones)
	sort.Strings(zones)
	return zones
}

func instanceCountsByZone(snap snapshot.Snapshot) map[string]int {
	counts := make(map[string]int)
	for _, instance := range snap.ASG.Instances {
		counts[instance.Zone]++
	}
	return counts
}

func nodeCountsByZone(snap snapshot.Snapshot) map[string]int {
	counts := make(map[string]int)
	for _, node := range snap.Nodes {
		counts[node.Zone]++
	}
	return counts
}
