/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

package cloud

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/autoscaling/autoscalingiface"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/log"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/stringset"
)

// Client performs the autoscaling group and instance operations needed
// by a roll
type Client struct {
	asg autoscalingiface.AutoScalingAPI
	ec2 ec2iface.EC2API
}

// NewSession creates an AWS session honoring the shared configuration
// files, with the profile and region optionally overridden
func NewSession(profile, region string) (*session.Session, error) {
	options := session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}
	if profile != "" {
		options.Profile = profile
	}
	if region != "" {
		options.Config = aws.Config{Region: aws.String(region)}
	}
	return session.NewSessionWithOptions(options)
}

// NewClient creates a cloud client from an AWS session
func NewClient(sess *session.Session) *Client {
	return &Client{
		asg: autoscaling.New(sess),
		ec2: ec2.New(sess),
	}
}

// NewClientFromAPIs creates a cloud client from already built service
// interfaces. Mainly used inside the unit tests.
func NewClientFromAPIs(asgAPI autoscalingiface.AutoScalingAPI, ec2API ec2iface.EC2API) *Client {
	return &Client{asg: asgAPI, ec2: ec2API}
}

// DescribeASG returns the autoscaling group with the given name
func (c *Client) DescribeASG(name string) (*AutoScalingGroup, error) {
	output, err := c.asg.DescribeAutoScalingGroups(&autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: aws.StringSlice([]string{name}),
	})
	if err != nil {
		return nil, fmt.Errorf("while describing autoscaling group %v: %w", name, err)
	}
	if len(output.AutoScalingGroups) == 0 {
		return nil, fmt.Errorf("autoscaling group %v: %w", name, ErrNotFound)
	}

	return fromAWSGroup(output.AutoScalingGroups[0]), nil
}

// ResizeASG updates the desired capacity and the maximum size of an
// autoscaling group
func (c *Client) ResizeASG(name string, desired, max int64) error {
	log.Info("Resizing autoscaling group",
		"asg", name, "desiredCapacity", desired, "maxSize", max)

	_, err := c.asg.UpdateAutoScalingGroup(&autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(name),
		DesiredCapacity:      aws.Int64(desired),
		MaxSize:              aws.Int64(max),
	})
	if err != nil {
		return fmt.Errorf("while resizing autoscaling group %v: %w", name, err)
	}
	return nil
}

// SuspendProcesses suspends the named scaling processes of a group
func (c *Client) SuspendProcesses(name string, processes []string) error {
	log.Info("Suspending scaling processes", "asg", name, "processes", processes)

	_, err := c.asg.SuspendProcesses(&autoscaling.ScalingProcessQuery{
		AutoScalingGroupName: aws.String(name),
		ScalingProcesses:     aws.StringSlice(processes),
	})
	if err != nil {
		return fmt.Errorf("while suspending processes of %v: %w", name, err)
	}
	return nil
}

// ResumeProcesses resumes the named scaling processes of a group
func (c *Client) ResumeProcesses(name string, processes []string) error {
	log.Info("Resuming scaling processes", "asg", name, "processes", processes)

	_, err := c.asg.ResumeProcesses(&autoscaling.ScalingProcessQuery{
		AutoScalingGroupName: aws.String(name),
		ScalingProcesses:     aws.StringSlice(processes),
	})
	if err != nil {
		return fmt.Errorf("while resuming processes of %v: %w", name, err)
	}
	return nil
}

// FindASGForInstance returns the name of the autoscaling group owning
// the given instance, or ErrNotFound when no group claims it
func (c *Client) FindASGForInstance(instanceID string) (string, error) {
	output, err := c.asg.DescribeAutoScalingInstances(&autoscaling.DescribeAutoScalingInstancesInput{
		InstanceIds: aws.StringSlice([]string{instanceID}),
	})
	if err != nil {
		return "", fmt.Errorf("while looking up the group of instance %v: %w", instanceID, err)
	}
	if len(output.AutoScalingInstances) == 0 {
		return "", fmt.Errorf("instance %v is in no autoscaling group: %w", instanceID, ErrNotFound)
	}

	return aws.StringValue(output.AutoScalingInstances[0].AutoScalingGroupName), nil
}

// ListASGs returns the names of every autoscaling group in the region
func (c *Client) ListASGs() ([]string, error) {
	var names []string
	err := c.asg.DescribeAutoScalingGroupsPages(&autoscaling.DescribeAutoScalingGroupsInput{},
		func(page *autoscaling.DescribeAutoScalingGroupsOutput, lastPage bool) bool {
			for _, group := range page.AutoScalingGroups {
				names = append(names, aws.StringValue(group.AutoScalingGroupName))
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("while listing autoscaling groups: %w", err)
	}
	return names, nil
}

func fromAWSGroup(group *autoscaling.Group) *AutoScalingGroup {
	result := &AutoScalingGroup{
		Name:               aws.StringValue(group.AutoScalingGroupName),
		MinSize:            aws.Int64Value(group.MinSize),
		MaxSize:            aws.Int64Value(group.MaxSize),
		DesiredCapacity:    aws.Int64Value(group.DesiredCapacity),
		SuspendedProcesses: stringset.New(),
	}

	for _, instance := range group.Instances {
		result.Instances = append(result.Instances, Instance{
			ID:             aws.StringValue(instance.InstanceId),
			Zone:           aws.StringValue(instance.AvailabilityZone),
			LifecycleState: aws.StringValue(instance.LifecycleState),
		})
	}

	for _, process := range group.SuspendedProcesses {
		result.SuspendedProcesses.Put(aws.StringValue(process.ProcessName))
	}

	return result
}
