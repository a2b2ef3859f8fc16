/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

// Package snapshot persists point-in-time captures of the cluster and
// autoscaling group state, so the progress of a roll can be reported
// and audited across process restarts
package snapshot

import (
	"time"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/cloud"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/kube"
)

// NowKey is the key of the single mutable entry of the store, replaced
// on every capture with the most recent state of the world
const NowKey = "now"

// NodeRecord is the subset of the node state worth persisting
type NodeRecord struct {
	Name              string    `json:"name"`
	Zone              string    `json:"zone"`
	Ready             bool      `json:"ready"`
	Retiring          string    `json:"retiring,omitempty"`
	CreationTimestamp time.Time `json:"creationTimestamp"`
}

// InstanceRecord is the subset of the instance state worth persisting
type InstanceRecord struct {
	ID   string `json:"id"`
	Zone string `json:"zone"`
}

// ASGRecord is the subset of the autoscaling group state worth
// persisting
type ASGRecord struct {
	Name               string           `json:"name"`
	MinSize            int64            `json:"minSize"`
	MaxSize            int64            `json:"maxSize"`
	DesiredCapacity    int64            `json:"desiredCapacity"`
	Instances          []InstanceRecord `json:"instances"`
	SuspendedProcesses []string         `json:"suspendedProcesses,omitempty"`
}

// Snapshot is an immutable record of the cluster and group state at a
// point in time. The retire time ties the record to the roll that took
// it, so a store left behind by one roll is never mistaken for the
// state of another.
type Snapshot struct {
	Key        string       `json:"key"`
	RetireTime string       `json:"retireTime,omitempty"`
	CapturedAt time.Time    `json:"capturedAt"`
	ASG        ASGRecord    `json:"asg"`
	Nodes      []NodeRecord `json:"nodes"`
}

// FromState builds a snapshot from the live autoscaling group and node
// state
func FromState(asg *cloud.AutoScalingGroup, nodes []kube.Node, retireTime string, at time.Time) Snapshot {
	result := Snapshot{
		RetireTime: retireTime,
		CapturedAt: at.UTC(),
		ASG: ASGRecord{
			Name:            asg.Name,
			MinSize:         asg.MinSize,
			MaxSize:         asg.MaxSize,
			DesiredCapacity: asg.DesiredCapacity,
		},
	}

	if asg.SuspendedProcesses != nil && asg.SuspendedProcesses.Len() > 0 {
		result.ASG.SuspendedProcesses = asg.SuspendedProcesses.ToSortedList()
	}

	for _, instance := range asg.Instances {
		result.ASG.Instances = append(result.ASG.Instances, InstanceRecord{
			ID:   instance.ID,
			Zone: instance.Zone,
		})
	}

	for _, node := range nodes {
		result.Nodes = append(result.Nodes, NodeRecord{
			Name:              node.Name,
			Zone:              node.Zone,
			Ready:             node.Ready,
			Retiring:          node.Retiring,
			CreationTimestamp: node.CreationTimestamp.UTC(),
		})
	}

	return result
}

// Identity returns the identity key of a node record. The creation
// timestamp is part of it because node names are reused when an
// instance is replaced in place.
func (n NodeRecord) Identity() string {
	return n.Name + "/" + n.CreationTimestamp.Format(time.RFC3339)
}
