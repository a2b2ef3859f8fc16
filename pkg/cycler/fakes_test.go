/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

package cycler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/cloud"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/kube"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/stringset"
)

// fakeInfra simulates a node pool backed by an autoscaling group: every
// instance has a matching node, terminating an instance removes its
// node, and the group launches replacements in the least populated zone
// while the Launch process is active. It records every mutation in an
// ordered event log the tests assert on.
type fakeInfra struct {
	mu sync.Mutex

	group     *cloud.AutoScalingGroup
	nodes     map[string]*kube.Node
	zones     []string
	suspended *stringset.Data
	nextID    int
	events    []string

	// when set, every launch lands in this zone, simulating a group
	// that ignores zone balance
	pinLaunchZone string
}

func newFakeInfra(asgName string, size int, zones []string) *fakeInfra {
	infra := &fakeInfra{
		group: &cloud.AutoScalingGroup{
			Name:            asgName,
			MinSize:         int64(size),
			MaxSize:         int64(size),
			DesiredCapacity: int64(size),
		},
		nodes:     make(map[string]*kube.Node),
		zones:     zones,
		suspended: stringset.New(),
	}
	for i := 0; i < size; i++ {
		infra.launch(zones[i%len(zones)])
	}
	infra.events = nil
	return infra
}

// launch creates an instance and its ready node. Callers hold the lock
// or run before the test starts.
func (f *fakeInfra) launch(zone string) {
	f.nextID++
	dns := fmt.Sprintf("ip-%03d.internal", f.nextID)

	f.group.Instances = append(f.group.Instances, cloud.Instance{
		ID:             fmt.Sprintf("i-%03d", f.nextID),
		Zone:           zone,
		PrivateDNSName: dns,
		LifecycleState: "InService",
	})
	f.nodes[dns] = &kube.Node{
		Name:              dns,
		Zone:              zone,
		Ready:             true,
		CreationTimestamp: time.Now(),
		InternalDNS:       dns,
	}
	f.events = append(f.events, "launch "+zone)
}

// reconcile launches instances until the desired capacity is met,
// picking the least populated zone, unless Launch is suspended
func (f *fakeInfra) reconcile() {
	for !f.suspended.Has(cloud.ProcessLaunch) &&
		int64(len(f.group.Instances)) < f.group.DesiredCapacity {
		if f.pinLaunchZone != "" {
			f.launch(f.pinLaunchZone)
			continue
		}
		counts := make(map[string]int)
		for _, instance := range f.group.Instances {
			counts[instance.Zone]++
		}
		target := f.zones[0]
		for _, zone := range f.zones {
			if counts[zone] < counts[target] {
				target = zone
			}
		}
		f.launch(target)
	}
}

func (f *fakeInfra) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.events...)
}

func (f *fakeInfra) eventIndexes(prefix string) []int {
	var indexes []int
	for i, event := range f.eventLog() {
		if strings.HasPrefix(event, prefix) {
			indexes = append(indexes, i)
		}
	}
	return indexes
}

func (f *fakeInfra) resetEvents() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

// KubeClient

func (f *fakeInfra) ListNodes(_ context.Context, selector map[string]string) ([]kube.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.nodes))
	for name := range f.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	var result []kube.Node
	for _, name := range names {
		node := f.nodes[name]
		if want, filtered := selector[kube.RetiringLabel]; filtered && node.Retiring != want {
			continue
		}
		result = append(result, *node)
	}
	return result, nil
}

func (f *fakeInfra) LabelNode(_ context.Context, name, key, value string, overwrite bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	node, found := f.nodes[name]
	if !found {
		return fmt.Errorf("node %v not found", name)
	}
	if key != kube.RetiringLabel {
		return fmt.Errorf("unexpected label %v", key)
	}
	if node.Retiring != "" && node.Retiring != value && !overwrite {
		return fmt.Errorf("node %v already has label %v=%v", name, key, node.Retiring)
	}
	node.Retiring = value
	return nil
}

func (f *fakeInfra) CordonNode(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	node, found := f.nodes[name]
	if !found {
		return fmt.Errorf("node %v not found", name)
	}
	node.Unschedulable = true
	return nil
}

func (f *fakeInfra) DrainNode(_ context.Context, name string, _ time.Duration) (kube.DrainResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, found := f.nodes[name]; !found {
		return kube.DrainTimedOut, fmt.Errorf("node %v not found", name)
	}
	f.events = append(f.events, "drain "+name)
	return kube.DrainClean, nil
}

// CloudClient

func (f *fakeInfra) DescribeASG(name string) (*cloud.AutoScalingGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if name != f.group.Name {
		return nil, fmt.Errorf("autoscaling group %v: %w", name, cloud.ErrNotFound)
	}

	copied := *f.group
	copied.Instances = append([]cloud.Instance{}, f.group.Instances...)
	copied.SuspendedProcesses = stringset.From(f.suspended.ToList())
	return &copied, nil
}

func (f *fakeInfra) ResizeASG(name string, desired, max int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if name != f.group.Name {
		return fmt.Errorf("autoscaling group %v: %w", name, cloud.ErrNotFound)
	}
	f.group.DesiredCapacity = desired
	f.group.MaxSize = max
	f.events = append(f.events, fmt.Sprintf("resize %d/%d", desired, max))
	f.reconcile()
	return nil
}

func (f *fakeInfra) SuspendProcesses(name string, processes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if name != f.group.Name {
		return fmt.Errorf("autoscaling group %v: %w", name, cloud.ErrNotFound)
	}
	for _, process := range processes {
		f.suspended.Put(process)
	}
	f.events = append(f.events, "suspend "+strings.Join(processes, ","))
	return nil
}

func (f *fakeInfra) ResumeProcesses(name string, processes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if name != f.group.Name {
		return fmt.Errorf("autoscaling group %v: %w", name, cloud.ErrNotFound)
	}
	for _, process := range processes {
		f.suspended.Delete(process)
	}
	f.events = append(f.events, "resume "+strings.Join(processes, ","))
	return nil
}

func (f *fakeInfra) FindASGForInstance(instanceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, instance := range f.group.Instances {
		if instance.ID == instanceID {
			return f.group.Name, nil
		}
	}
	return "", fmt.Errorf("instance %v is in no autoscaling group: %w", instanceID, cloud.ErrNotFound)
}

func (f *fakeInfra) DescribeInstanceByPrivateDNS(privateDNS string) (*cloud.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, instance := range f.group.Instances {
		if instance.PrivateDNSName == privateDNS {
			copied := instance
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("no running instance with private DNS %v: %w", privateDNS, cloud.ErrNotFound)
}

func (f *fakeInfra) TerminateInstance(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, instance := range f.group.Instances {
		if instance.ID != id {
			continue
		}
		f.group.Instances = append(f.group.Instances[:i], f.group.Instances[i+1:]...)
		delete(f.nodes, instance.PrivateDNSName)
		f.events = append(f.events, "terminate "+id)
		f.reconcile()
		return nil
	}
	return fmt.Errorf("instance %v: %w", id, cloud.ErrNotFound)
}
