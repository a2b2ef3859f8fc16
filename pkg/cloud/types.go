/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

// Package cloud contains the typed autoscaling group and instance
// operations the cycler performs against the cloud provider
package cloud

import (
	"errors"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/stringset"
)

// Scaling process names the cycler manipulates during a roll
const (
	ProcessLaunch            = "Launch"
	ProcessAZRebalance       = "AZRebalance"
	ProcessAlarmNotification = "AlarmNotification"
	ProcessScheduledActions  = "ScheduledActions"
)

// SuspendedDuringRoll are the scaling processes suspended once the
// group is upscaled. Launch, Terminate, HealthCheck, ReplaceUnhealthy
// and AddToLoadBalancer stay active so the provider keeps replacing
// unhealthy instances while the roll is in progress.
var SuspendedDuringRoll = []string{
	ProcessAZRebalance,
	ProcessAlarmNotification,
	ProcessScheduledActions,
}

// ResumedAfterRoll are the scaling processes resumed when the roll is
// complete: the ones suspended during the roll plus Launch, which is
// suspended separately right before the final batch
var ResumedAfterRoll = []string{
	ProcessLaunch,
	ProcessAZRebalance,
	ProcessAlarmNotification,
	ProcessScheduledActions,
}

// ErrNotFound is returned when the requested instance or autoscaling
// group doesn't exist, typically because of an eventual-consistency
// race the caller retries through
var ErrNotFound = errors.New("not found")

// Instance is the cycler's view of a cloud compute instance
type Instance struct {
	ID             string
	Zone           string
	PrivateDNSName string
	LifecycleState string
}

// AutoScalingGroup is the cycler's view of an autoscaling group
type AutoScalingGroup struct {
	Name               string
	MinSize            int64
	MaxSize            int64
	DesiredCapacity    int64
	Instances          []Instance
	SuspendedProcesses *stringset.Data
}

// InServiceCount returns the number of instances currently in service
func (asg *AutoScalingGroup) InServiceCount() int {
	count := 0
	for _, instance := range asg.Instances {
		if instance.LifecycleState == "InService" {
			count++
		}
	}
	return count
}
