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
	policyv1beta1 "k8s.io/api/policy/v1beta1"
	apierrs "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/log"
)

// DrainNode evicts every non-DaemonSet, non-mirror pod from the node
// and waits for them to leave, up to the given timeout.
//
// Drain is best effort: the node is terminated afterwards whatever the
// outcome, so a timeout is reported as DrainTimedOut with a nil error
// and only unexpected API failures surface as errors.
func (c *Client) DrainNode(ctx context.Context, name string, timeout time.Duration) (DrainResult, error) {
	log.Info("Draining node", "node", name, "timeout", timeout.String())
	deadline := time.Now().Add(timeout)

	for {
		pods, err := c.evictablePods(ctx, name)
		if err != nil {
			return DrainTimedOut, err
		}
		if len(pods) == 0 {
			log.Info("Drained node", "node", name)
			return DrainClean, nil
		}

		for idx := range pods {
			if err := c.evictPod(ctx, &pods[idx]); err != nil {
				return DrainTimedOut, err
			}
		}

		if time.Now().After(deadline) {
			log.Warning("Drain timeout reached, proceeding anyway",
				"node", name, "podsLeft", len(pods))
			return DrainTimedOut, nil
		}

		select {
		case <-ctx.Done():
			return DrainTimedOut, ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}

// evictablePods lists the pods on a node that a drain has to evict,
// applying the same skip rules as kubectl drain: DaemonSet pods come
// back anyway, mirror pods cannot be evicted, and terminal pods are
// already gone
func (c *Client) evictablePods(ctx context.Context, nodeName string) ([]corev1.Pod, error) {
	podList, err := c.clientset.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		FieldSelector: "spec.nodeName=" + nodeName,
	})
	if err != nil {
		return nil, fmt.Errorf("while listing pods on node %v: %w", nodeName, err)
	}

	result := make([]corev1.Pod, 0, len(podList.Items))
	for _, pod := range podList.Items {
		if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
			continue
		}
		if _, isMirror := pod.Annotations[corev1.MirrorPodAnnotationKey]; isMirror {
			continue
		}
		if isDaemonSetPod(&pod) {
			continue
		}
		result = append(result, pod)
	}
	return result, nil
}

func (c *Client) evictPod(ctx context.Context, pod *corev1.Pod) error {
	eviction := &policyv1beta1.Eviction{
		ObjectMeta: metav1.ObjectMeta{
			Name:      pod.Name,
			Namespace: pod.Namespace,
		},
	}

	err := c.clientset.PolicyV1beta1().Evictions(pod.Namespace).Evict(ctx, eviction)
	switch {
	case err == nil:
		return nil
	case apierrs.IsNotFound(err):
		// already gone
		return nil
	case apierrs.IsTooManyRequests(err):
		// blocked by a PodDisruptionBudget, the drain loop tries again
		log.Debug("Eviction temporarily blocked",
			"pod", pod.Name, "namespace", pod.Namespace)
		return nil
	default:
		return fmt.Errorf("while evicting pod %v/%v: %w", pod.Namespace, pod.Name, err)
	}
}

func isDaemonSetPod(pod *corev1.Pod) bool {
	for _, owner := range pod.OwnerReferences {
		if owner.Kind == "DaemonSet" {
			return true
		}
	}
	return false
}
