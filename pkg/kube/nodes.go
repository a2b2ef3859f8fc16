/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

package kube

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/log"
)

// defaultPollInterval is how often the drain loop re-lists the pods
// still running on the node
const defaultPollInterval = 5 * time.Second

// Client performs the node operations needed by a roll
type Client struct {
	client    client.Client
	clientset kubernetes.Interface

	// PollInterval is the pause between drain re-checks
	PollInterval time.Duration
}

// NewClient creates a node client from a controller-runtime client and
// a typed clientset. The typed clientset is needed for the eviction
// subresource, everything else goes through the generic client.
func NewClient(crClient client.Client, clientset kubernetes.Interface) *Client {
	return &Client{
		client:       crClient,
		clientset:    clientset,
		PollInterval: defaultPollInterval,
	}
}

// ListNodes returns the nodes matching the given label selector, in
// API discovery order
func (c *Client) ListNodes(ctx context.Context, selector map[string]string) ([]Node, error) {
	var nodeList corev1.NodeList
	if err := c.client.List(ctx, &nodeList, client.MatchingLabels(selector)); err != nil {
		return nil, fmt.Errorf("while listing nodes: %w", err)
	}

	result := make([]Node, 0, len(nodeList.Items))
	for idx := range nodeList.Items {
		result = append(result, fromCoreNode(&nodeList.Items[idx]))
	}
	return result, nil
}

// LabelNode sets a label on a node. When the label is already present
// with a different value, the call fails unless overwrite is set.
func (c *Client) LabelNode(ctx context.Context, name, key, value string, overwrite bool) error {
	var node corev1.Node
	if err := c.client.Get(ctx, client.ObjectKey{Name: name}, &node); err != nil {
		return fmt.Errorf("while getting node %v: %w", name, err)
	}

	if current, ok := node.Labels[key]; ok && current != value && !overwrite {
		return fmt.Errorf("node %v already has label %v=%v", name, key, current)
	}

	patched := node.DeepCopy()
	if patched.Labels == nil {
		patched.Labels = make(map[string]string)
	}
	patched.Labels[key] = value

	if err := c.client.Patch(ctx, patched, client.MergeFrom(&node)); err != nil {
		return fmt.Errorf("while labelling node %v: %w", name, err)
	}

	log.Debug("Labeled node", "node", name, "label", key, "value", value)
	return nil
}

// CordonNode marks a node as unschedulable. Cordoning an already
// cordoned node is a no-op.
func (c *Client) CordonNode(ctx context.Context, name string) error {
	var node corev1.Node
	if err := c.client.Get(ctx, client.ObjectKey{Name: name}, &node); err != nil {
		return fmt.Errorf("while getting node %v: %w", name, err)
	}

	if node.Spec.Unschedulable {
		return nil
	}

	patched := node.DeepCopy()
	patched.Spec.Unschedulable = true

	if err := c.client.Patch(ctx, patched, client.MergeFrom(&node)); err != nil {
		return fmt.Errorf("while cordoning node %v: %w", name, err)
	}

	log.Info("Cordoned node", "node", name)
	return nil
}
