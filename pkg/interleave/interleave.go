/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

// Package interleave computes the order in which retiring nodes are
// drained, rotating across availability zones
package interleave

import (
	"sort"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/kube"
)

// ByZone orders the given nodes so that consecutive drains rotate
// through the availability zones, always taking from a zone with the
// most nodes left.
//
// Draining zone by zone would empty one zone faster than the group can
// replace capacity there, so the order rotates. Preferring the fullest
// zone matters when a roll is resumed with uneven remainders: the
// surplus zones are drained first, so the last nodes retired cover each
// zone exactly once and the pool ends balanced. Ties follow the cyclic
// zone order after the previous pick, in-zone order is preserved, and
// the result is deterministic for a given input.
func ByZone(nodes []kube.Node) []kube.Node {
	groups := make(map[string][]kube.Node)
	for _, node := range nodes {
		groups[node.Zone] = append(groups[node.Zone], node)
	}

	zones := make([]string, 0, len(groups))
	for zone := range groups {
		zones = append(zones, zone)
	}
	sort.Strings(zones)

	result := make([]kube.Node, 0, len(nodes))
	previous := -1
	for len(result) < len(nodes) {
		best := -1
		for offset := 1; offset <= len(zones); offset++ {
			candidate := (previous + offset) % len(zones)
			if len(groups[zones[candidate]]) == 0 {
				continue
			}
			if best == -1 || len(groups[zones[candidate]]) > len(groups[zones[best]]) {
				best = candidate
			}
		}

		zone := zones[best]
		result = append(result, groups[zone][0])
		groups[zone] = groups[zone][1:]
		previous = best
	}

	return result
}
