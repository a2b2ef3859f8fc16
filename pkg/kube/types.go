/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

// Package kube contains the typed node operations the cycler performs
// against the Kubernetes API: listing, labelling, cordoning and
// draining nodes
package kube

import (
	"time"

	corev1 "k8s.io/api/core/v1"
)

const (
	// RetiringLabel marks a node chosen for replacement in the
	// current roll. Its value is the retire-time token of the roll.
	RetiringLabel = "k8s.enterprisedb.io/retiring"

	// ZoneLabel is the topology label carrying the availability zone
	ZoneLabel = "topology.kubernetes.io/zone"

	// LegacyZoneLabel is the deprecated form of ZoneLabel, still the
	// only one populated on older clusters
	LegacyZoneLabel = "failure-domain.beta.kubernetes.io/zone"

	// roleLabelPrefix is the prefix of the node role labels
	roleLabelPrefix = "node-role.kubernetes.io/"
)

// Node is the cycler's view of a cluster node
type Node struct {
	// Name is unique and stable for the node lifetime
	Name string

	// Zone is the availability zone label value, empty until the
	// cloud controller populates the topology labels
	Zone string

	// Ready reports whether the node Ready condition is true
	Ready bool

	// Retiring is the value of the retiring label, empty when the
	// node is not part of a roll
	Retiring string

	// Unschedulable reports whether the node is cordoned
	Unschedulable bool

	// CreationTimestamp disambiguates reused node names
	CreationTimestamp time.Time

	// InternalDNS is the private DNS name correlating the node with
	// its backing cloud instance
	InternalDNS string
}

// DrainResult is the outcome of a node drain
type DrainResult int

const (
	// DrainClean means every evictable pod left the node in time
	DrainClean DrainResult = iota

	// DrainTimedOut means the timeout elapsed with pods still on the
	// node. Not an error: termination proceeds anyway.
	DrainTimedOut
)

// RoleSelector returns the label selector matching the nodes of a role
func RoleSelector(role string) map[string]string {
	return map[string]string{roleLabelPrefix + role: ""}
}

// RetiringSelector returns the label selector matching the nodes of a
// role already labeled for the roll identified by retireTime
func RetiringSelector(role, retireTime string) map[string]string {
	selector := RoleSelector(role)
	selector[RetiringLabel] = retireTime
	return selector
}

func fromCoreNode(node *corev1.Node) Node {
	result := Node{
		Name:              node.Name,
		Unschedulable:     node.Spec.Unschedulable,
		CreationTimestamp: node.CreationTimestamp.Time,
		Retiring:          node.Labels[RetiringLabel],
		InternalDNS:       node.Name,
	}

	if zone, ok := node.Labels[ZoneLabel]; ok {
		result.Zone = zone
	} else {
		result.Zone = node.Labels[LegacyZoneLabel]
	}

	for _, condition := range node.Status.Conditions {
		if condition.Type == corev1.NodeReady {
			result.Ready = condition.Status == corev1.ConditionTrue
		}
	}

	for _, address := range node.Status.Addresses {
		if address.Type == corev1.NodeInternalDNS {
			result.InternalDNS = address.Address
		}
	}

	return result
}
