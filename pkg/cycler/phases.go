/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

package cycler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/balance"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/cloud"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/kube"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/log"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/report"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/snapshot"
)

// discoverASG maps a retiring node to its backing instance and from
// there to the autoscaling group owning it. The whole walk is retried:
// right after labelling, the cloud API may not yet know an instance the
// node API does.
func (c *Cycler) discoverASG(ctx context.Context, retiring []kube.Node) (string, error) {
	var name string

	err := c.retry.Do(ctx, "autoscaling group discovery", func() error {
		for _, node := range retiring {
			instance, err := c.cloud.DescribeInstanceByPrivateDNS(node.InternalDNS)
			if errors.Is(err, cloud.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			group, err := c.cloud.FindASGForInstance(instance.ID)
			if errors.Is(err, cloud.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			name = group
			return nil
		}
		return fmt.Errorf("no retiring node maps to an autoscaling group: %w", cloud.ErrNotFound)
	})
	if err != nil {
		return "", err
	}

	log.Info("Discovered autoscaling group", "asg", name, "role", c.cfg.Role)
	return name, nil
}

// waitForReadyNodes blocks until at least count replacement nodes are
// ready and schedulable. Replacements are the role's nodes with no
// retiring label; a node without a zone label is not counted, since the
// topology labels arrive after readiness and the balance math needs
// them.
func (c *Cycler) waitForReadyNodes(ctx context.Context, count int64) error {
	log.Info("Waiting for replacement nodes", "expected", count)

	return wait.PollImmediateUntil(c.cfg.PollInterval, func() (bool, error) {
		nodes, err := c.listNodes(ctx, kube.RoleSelector(c.cfg.Role))
		if err != nil {
			return false, err
		}

		ready := int64(0)
		for _, node := range nodes {
			if node.Retiring == "" && node.Ready && !node.Unschedulable && node.Zone != "" {
				ready++
			}
		}

		if ready < count {
			log.Debug("Replacement nodes not ready yet", "ready", ready, "expected", count)
			return false, nil
		}
		return true, nil
	}, ctx.Done())
}

// awaitScaleDown waits until the group's instance count settles back to
// the original size. The settle delay gives the provider time to notice
// the last terminations before the first poll.
func (c *Cycler) awaitScaleDown(ctx context.Context, asgName string, originalSize int64) error {
	log.Info("Waiting for the group to settle", "asg", asgName, "size", originalSize)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.SettleDelay):
	}

	return wait.PollImmediateUntil(c.cfg.PollInterval, func() (bool, error) {
		asg, err := c.describeASG(ctx, asgName)
		if err != nil {
			return false, err
		}

		if int64(len(asg.Instances)) != originalSize {
			log.Debug("Group not settled yet",
				"asg", asgName, "instances", len(asg.Instances), "expected", originalSize)
			return false, nil
		}
		return true, nil
	}, ctx.Done())
}

// assertUpscaledBalance verifies the grown pool still spans the zones
// evenly once the replacement batch is up, before any node is drained.
// The retiring nodes are still running, so the whole role is counted
// and the tolerance absorbs the skew of the extra batch.
func (c *Cycler) assertUpscaledBalance(ctx context.Context) error {
	selector := kube.RoleSelector(c.cfg.Role)
	if err := balance.AwaitZoneLabels(ctx, retryingLister{c}, selector, c.cfg.PollInterval); err != nil {
		return err
	}
	return balance.Assert(ctx, retryingLister{c}, selector, c.cfg.Tolerance)
}

// assertReplacementBalance verifies the replacement pool spans the
// required zones evenly. Node objects of terminated instances may
// linger until the node controller collects them, so the retiring ones
// are filtered out instead of reusing the role-wide check.
func (c *Cycler) assertReplacementBalance(ctx context.Context) error {
	if err := balance.AwaitZoneLabels(ctx, retryingLister{c},
		kube.RoleSelector(c.cfg.Role), c.cfg.PollInterval); err != nil {
		return err
	}

	nodes, err := c.listNodes(ctx, kube.RoleSelector(c.cfg.Role))
	if err != nil {
		return err
	}

	replacements := make([]kube.Node, 0, len(nodes))
	for _, node := range nodes {
		if node.Retiring == "" {
			replacements = append(replacements, node)
		}
	}

	return balance.Check(balance.CountByZone(replacements), c.cfg.Tolerance)
}

// report captures a snapshot of the group and the pool and renders the
// cumulative progress since the first snapshot of the roll
func (c *Cycler) report(ctx context.Context, asgName string) error {
	asg, err := c.describeASG(ctx, asgName)
	if err != nil {
		return err
	}
	nodes, err := c.listNodes(ctx, kube.RoleSelector(c.cfg.Role))
	if err != nil {
		return err
	}

	if _, err := c.store.Take(snapshot.FromState(asg, nodes, c.cfg.RetireTime, time.Now())); err != nil {
		return err
	}

	first, err := c.store.First()
	if err != nil {
		return err
	}
	now, err := c.store.Get(snapshot.NowKey)
	if err != nil {
		return err
	}

	report.Render(c.cfg.ReportWriter, first, now, c.cfg.ReportVerbose)
	return nil
}
