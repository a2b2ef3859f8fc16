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

	"github.com/EnterpriseDB/kube-node-cycler/pkg/balance"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/cloud"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/interleave"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/kube"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/log"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/retrier"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/snapshot"
)

// KubeClient is the subset of the node operations a roll performs
type KubeClient interface {
	ListNodes(ctx context.Context, selector map[string]string) ([]kube.Node, error)
	LabelNode(ctx context.Context, name, key, value string, overwrite bool) error
	CordonNode(ctx context.Context, name string) error
	DrainNode(ctx context.Context, name string, timeout time.Duration) (kube.DrainResult, error)
}

// CloudClient is the subset of the cloud operations a roll performs
type CloudClient interface {
	DescribeASG(name string) (*cloud.AutoScalingGroup, error)
	ResizeASG(name string, desired, max int64) error
	SuspendProcesses(name string, processes []string) error
	ResumeProcesses(name string, processes []string) error
	FindASGForInstance(instanceID string) (string, error)
	DescribeInstanceByPrivateDNS(privateDNS string) (*cloud.Instance, error)
	TerminateInstance(id string) error
}

// Cycler executes one roll of one node pool
type Cycler struct {
	cfg   Config
	kube  KubeClient
	cloud CloudClient
	store *snapshot.Store
	retry *retrier.Retrier
}

// New builds a Cycler. The Config must already be defaulted and
// validated.
func New(cfg Config, kubeClient KubeClient, cloudClient CloudClient, store *snapshot.Store) *Cycler {
	return &Cycler{
		cfg:   cfg,
		kube:  kubeClient,
		cloud: cloudClient,
		store: store,
		retry: retrier.New(cfg.RetryAttempts, cfg.RetryDelay),
	}
}

// Run executes the roll from whatever point the labels and the
// autoscaling group say it was left at. Every error is returned to the
// caller: nothing in the roll terminates the process.
func (c *Cycler) Run(ctx context.Context) error {
	nodes, err := c.listNodes(ctx, kube.RoleSelector(c.cfg.Role))
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("no nodes carry the role %v", c.cfg.Role)
	}

	retiring, err := c.markRetiring(ctx, nodes)
	if err != nil {
		return err
	}

	if len(retiring) == 0 {
		// every retiring node is already gone: the previous run died
		// between the last termination and the teardown
		return c.finishInterrupted(ctx)
	}

	if err := balance.Assert(ctx, retryingLister{c}, kube.RoleSelector(c.cfg.Role), c.cfg.Tolerance); err != nil {
		return err
	}

	asgName, err := c.discoverASG(ctx, retiring)
	if err != nil {
		return err
	}

	asg, err := c.describeASG(ctx, asgName)
	if err != nil {
		return err
	}
	originalSize := asg.MinSize

	if err := c.report(ctx, asgName); err != nil {
		return err
	}

	if err := c.validateGroup(asg); err != nil {
		return err
	}
	if err := c.ensureUpscaled(ctx, asg); err != nil {
		return err
	}

	// the replacements brought up so far, capped at the original size:
	// past the last batch boundary Launch is off and the pool never
	// holds more
	replacements := int64(c.cfg.BatchSize) + originalSize - int64(len(retiring))
	if replacements > originalSize {
		replacements = originalSize
	}
	if err := c.waitForReadyNodes(ctx, replacements); err != nil {
		return err
	}
	if err := c.suspend(ctx, asgName, cloud.SuspendedDuringRoll); err != nil {
		return err
	}
	if err := c.assertUpscaledBalance(ctx); err != nil {
		return err
	}
	if err := c.report(ctx, asgName); err != nil {
		return err
	}

	if err := c.drainAll(ctx, asgName, originalSize, retiring); err != nil {
		return err
	}

	return c.finish(ctx, asgName, originalSize)
}

// markRetiring labels and cordons the nodes this roll retires and
// returns them. When some nodes already carry the roll's retire time
// the run is a resumption: the unlabeled nodes are the replacements
// brought up so far and must not be touched.
func (c *Cycler) markRetiring(ctx context.Context, nodes []kube.Node) ([]kube.Node, error) {
	var retiring, unlabeled []kube.Node
	for _, node := range nodes {
		switch node.Retiring {
		case c.cfg.RetireTime:
			retiring = append(retiring, node)
		case "":
			unlabeled = append(unlabeled, node)
		default:
			return nil, fmt.Errorf(
				"node %v is retiring under %v, not %v: another roll touched this pool",
				node.Name, node.Retiring, c.cfg.RetireTime)
		}
	}

	if len(retiring) == 0 && c.store.Len() == 0 {
		log.Info("Starting a fresh roll",
			"role", c.cfg.Role, "retireTime", c.cfg.RetireTime, "nodes", len(unlabeled))
		retiring = unlabeled
	} else if len(retiring) > 0 {
		log.Info("Resuming an interrupted roll",
			"role", c.cfg.Role, "retireTime", c.cfg.RetireTime,
			"retiring", len(retiring), "replacements", len(unlabeled))
	}

	for _, node := range retiring {
		name := node.Name
		if err := c.retry.Do(ctx, "node labelling", func() error {
			return c.kube.LabelNode(ctx, name, kube.RetiringLabel, c.cfg.RetireTime, true)
		}); err != nil {
			return nil, err
		}
		if err := c.retry.Do(ctx, "node cordon", func() error {
			return c.kube.CordonNode(ctx, name)
		}); err != nil {
			return nil, err
		}
	}

	// re-list so the returned nodes carry the label they were just given
	return c.listNodes(ctx, kube.RetiringSelector(c.cfg.Role, c.cfg.RetireTime))
}

// validateGroup rejects group shapes the batch arithmetic cannot
// handle. The minimum size is the pool's original size and is never
// touched by the roll.
func (c *Cycler) validateGroup(asg *cloud.AutoScalingGroup) error {
	if int64(c.cfg.BatchSize) > asg.MinSize {
		return fmt.Errorf("batch size %d exceeds the group size %d of %v",
			c.cfg.BatchSize, asg.MinSize, asg.Name)
	}
	if asg.MinSize%int64(c.cfg.BatchSize) != 0 {
		return fmt.Errorf("group size %d of %v is not a multiple of the batch size %d",
			asg.MinSize, asg.Name, c.cfg.BatchSize)
	}
	return nil
}

// ensureUpscaled raises the group's desired capacity and maximum size
// by one batch, or verifies a previous run already did. The scaling
// processes are suspended by the caller once the new capacity is up:
// freezing them earlier would leave the group unable to launch the
// batch it was just asked for.
func (c *Cycler) ensureUpscaled(ctx context.Context, asg *cloud.AutoScalingGroup) error {
	target := asg.MinSize + int64(c.cfg.BatchSize)

	if asg.MaxSize == asg.MinSize {
		if asg.DesiredCapacity != asg.MinSize {
			return fmt.Errorf("group %v is not quiescent: min=%d max=%d desired=%d",
				asg.Name, asg.MinSize, asg.MaxSize, asg.DesiredCapacity)
		}
		return c.resize(ctx, asg.Name, target, target)
	}
	if asg.MaxSize != target || asg.DesiredCapacity != target {
		return fmt.Errorf(
			"group %v is in an unexpected shape: min=%d max=%d desired=%d, expected max=desired=%d",
			asg.Name, asg.MinSize, asg.MaxSize, asg.DesiredCapacity, target)
	}
	return nil
}

// drainAll drains and terminates the retiring nodes in zone-interleaved
// order, pausing at every batch boundary until the replacement capacity
// is ready.
//
// The progress counter counts terminations since the roll began, offset
// by one batch: it starts at batchSize + groupSize - len(retiring) so
// that it reaches a multiple of the batch size exactly when a batch of
// replacements is due, whether the roll is fresh or resumed. When it
// reaches the group size only the last batch is left, and Launch is
// suspended so the group does not replace those final instances.
func (c *Cycler) drainAll(ctx context.Context, asgName string, originalSize int64, retiring []kube.Node) error {
	counter := int64(c.cfg.BatchSize) + originalSize - int64(len(retiring))

	for _, node := range interleave.ByZone(retiring) {
		if counter == originalSize {
			if err := c.report(ctx, asgName); err != nil {
				return err
			}
			if err := c.waitForReadyNodes(ctx, counter); err != nil {
				return err
			}
			if err := c.suspend(ctx, asgName, []string{cloud.ProcessLaunch}); err != nil {
				return err
			}
			if err := c.report(ctx, asgName); err != nil {
				return err
			}
		} else if counter%int64(c.cfg.BatchSize) == 0 && counter < originalSize {
			if err := c.waitForReadyNodes(ctx, counter); err != nil {
				return err
			}
		}

		if err := c.retire(ctx, node); err != nil {
			return err
		}
		counter++
	}

	return nil
}

// retire drains one node and terminates its backing instance. Drain
// failures are logged, not fatal: the instance dies either way and the
// pods get rescheduled.
func (c *Cycler) retire(ctx context.Context, node kube.Node) error {
	if _, err := c.kube.DrainNode(ctx, node.Name, c.cfg.DrainTimeout); err != nil {
		log.Warning("Drain failed, terminating the node anyway",
			"node", node.Name, "error", err.Error())
	}

	var instance *cloud.Instance
	err := c.retry.Do(ctx, "instance lookup", func() error {
		found, err := c.cloud.DescribeInstanceByPrivateDNS(node.InternalDNS)
		if errors.Is(err, cloud.ErrNotFound) {
			// the instance is gone for good, not a transient failure
			instance = nil
			return nil
		}
		instance = found
		return err
	})
	if err != nil {
		return err
	}
	if instance == nil {
		log.Warning("No running instance backs the node, skipping termination",
			"node", node.Name)
		return nil
	}

	return c.retry.Do(ctx, "instance termination", func() error {
		return c.cloud.TerminateInstance(instance.ID)
	})
}

// finish settles the group back to its original size, restores the
// scaling processes, and verifies the replacement pool is balanced
func (c *Cycler) finish(ctx context.Context, asgName string, originalSize int64) error {
	if err := c.awaitScaleDown(ctx, asgName, originalSize); err != nil {
		return err
	}
	if err := c.resize(ctx, asgName, originalSize, originalSize); err != nil {
		return err
	}
	if err := c.resume(ctx, asgName, cloud.ResumedAfterRoll); err != nil {
		return err
	}

	if err := c.assertReplacementBalance(ctx); err != nil {
		return err
	}
	if err := c.report(ctx, asgName); err != nil {
		return err
	}

	log.Info("Roll complete", "role", c.cfg.Role, "retireTime", c.cfg.RetireTime)
	return nil
}

// finishInterrupted completes a roll whose retiring nodes are all gone
// but whose teardown never ran. The group name comes from the snapshot
// store, since no retiring node is left to map to it. A store written
// by a different roll means the operator is starting a new roll on top
// of an old state file, and quietly finishing someone else's teardown
// would replace nothing, so that is an error instead.
func (c *Cycler) finishInterrupted(ctx context.Context) error {
	last, err := c.store.Get(snapshot.NowKey)
	if err != nil {
		return fmt.Errorf("no retiring nodes and no usable snapshot store: %w", err)
	}
	if last.RetireTime != c.cfg.RetireTime {
		return fmt.Errorf(
			"snapshot store %v records the roll %v, not %v: "+
				"pass a fresh --snapshot-file to start a new roll, or --retire-time=%v to resume the recorded one",
			c.cfg.SnapshotFile, last.RetireTime, c.cfg.RetireTime, last.RetireTime)
	}

	log.Info("Every retiring node is already gone, completing the teardown",
		"asg", last.ASG.Name)

	asg, err := c.describeASG(ctx, last.ASG.Name)
	if err != nil {
		return err
	}
	return c.finish(ctx, asg.Name, asg.MinSize)
}

// listNodes wraps the node listing in the roll's retrier: a roll runs
// for hours and a transient API failure must not abort it
func (c *Cycler) listNodes(ctx context.Context, selector map[string]string) ([]kube.Node, error) {
	var nodes []kube.Node
	err := c.retry.Do(ctx, "node listing", func() error {
		var err error
		nodes, err = c.kube.ListNodes(ctx, selector)
		return err
	})
	return nodes, err
}

// describeASG wraps the group lookup in the roll's retrier
func (c *Cycler) describeASG(ctx context.Context, name string) (*cloud.AutoScalingGroup, error) {
	var asg *cloud.AutoScalingGroup
	err := c.retry.Do(ctx, "group lookup", func() error {
		var err error
		asg, err = c.cloud.DescribeASG(name)
		return err
	})
	return asg, err
}

// retryingLister exposes the retried node listing as a balance.NodeLister
type retryingLister struct {
	c *Cycler
}

func (l retryingLister) ListNodes(ctx context.Context, selector map[string]string) ([]kube.Node, error) {
	return l.c.listNodes(ctx, selector)
}

func (c *Cycler) resize(ctx context.Context, asgName string, desired, max int64) error {
	return c.retry.Do(ctx, "group resize", func() error {
		return c.cloud.ResizeASG(asgName, desired, max)
	})
}

func (c *Cycler) suspend(ctx context.Context, asgName string, processes []string) error {
	return c.retry.Do(ctx, "process suspension", func() error {
		return c.cloud.SuspendProcesses(asgName, processes)
	})
}

func (c *Cycler) resume(ctx context.Context, asgName string, processes []string) error {
	return c.retry.Do(ctx, "process resumption", func() error {
		return c.cloud.ResumeProcesses(asgName, processes)
	})
}
