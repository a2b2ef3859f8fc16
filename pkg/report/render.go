/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/cheynewallace/tabby"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/snapshot"
)

const separator = "--------------------------------------------------------------------------------"

// Render writes a self-contained, separator-bounded report block
// describing what changed between two snapshots. When verbose is set,
// every added and removed node and instance is listed by name.
func Render(w io.Writer, before, after snapshot.Snapshot, verbose bool) {
	delta := Diff(before, after)
	zones := zonesOf(before, after)

	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "Roll progress report (%v -> %v)\n", before.Key, after.Key)

	t := tabby.NewCustom(tabwriter.NewWriter(w, 0, 0, 2, ' ', 0))
	t.AddLine("ASG:", after.ASG.Name)
	t.AddLine("Sizing:", fmt.Sprintf("min=%d max=%d desired=%d (was min=%d max=%d desired=%d)",
		after.ASG.MinSize, after.ASG.MaxSize, after.ASG.DesiredCapacity,
		before.ASG.MinSize, before.ASG.MaxSize, before.ASG.DesiredCapacity))
	if len(after.ASG.SuspendedProcesses) > 0 {
		t.AddLine("Suspended:", strings.Join(after.ASG.SuspendedProcesses, ", "))
	}
	t.AddLine("Instances:", fmt.Sprintf("%v (was %v)",
		formatZoneCounts(instanceCountsByZone(after), zones),
		formatZoneCounts(instanceCountsByZone(before), zones)))
	t.AddLine("Nodes:", fmt.Sprintf("%v (was %v)",
		formatZoneCounts(nodeCountsByZone(after), zones),
		formatZoneCounts(nodeCountsByZone(before), zones)))
	t.AddLine("Added nodes:", len(delta.AddedNodes))
	t.AddLine("Removed nodes:", len(delta.RemovedNodes))
	t.AddLine("Added instances:", len(delta.AddedInstances))
	t.AddLine("Removed instances:", len(delta.RemovedInstances))
	t.AddLine("Zone delta:", formatZoneDelta(delta.InstanceDeltaByZone(), zones))
	t.Print()

	if verbose {
		listRecords(w, "added node", nodeNames(delta.AddedNodes))
		listRecords(w, "removed node", nodeNames(delta.RemovedNodes))
		listRecords(w, "added instance", instanceIDs(delta.AddedInstances))
		listRecords(w, "removed instance", instanceIDs(delta.RemovedInstances))
	}

	fmt.Fprintln(w, separator)
}

// formatZoneCounts renders per-zone counts in the "6 (2/2/2)" form,
// zones in lexical order
func formatZoneCounts(counts map[string]int, zones []string) string {
	total := 0
	perZone := make([]string, 0, len(zones))
	for _, zone := range zones {
		total += counts[zone]
		perZone = append(perZone, fmt.Sprintf("%d", counts[zone]))
	}
	return fmt.Sprintf("%d (%v)", total, strings.Join(perZone, "/"))
}

// formatZoneDelta renders a signed per-zone instance delta plus the
// net total
func formatZoneDelta(deltas map[string]int, zones []string) string {
	net := 0
	perZone := make([]string, 0, len(zones))
	for _, zone := range zones {
		net += deltas[zone]
		perZone = append(perZone, fmt.Sprintf("%v %+d", zone, deltas[zone]))
	}
	return fmt.Sprintf("%v (net %+d)", strings.Join(perZone, ", "), net)
}

func listRecords(w io.Writer, kind string, names []string) {
	for _, name := range names {
		fmt.Fprintf(w, "  %v: %v\n", kind, name)
	}
}

func nodeNames(nodes []snapshot.NodeRecord) []string {
	result := make([]string, 0, len(nodes))
	for _, node := range nodes {
		result = append(result, node.Name)
	}
	return result
}

func instanceIDs(instances []snapshot.InstanceRecord) []string {
	result := make([]string, 0, len(instances))
	for _, instance := range instances {
		result = append(result, instance.ID)
	}
	return result
}
