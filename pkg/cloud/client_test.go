/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

package cloud

import (
	"errors"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/autoscaling/autoscalingiface"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type stubAutoScaling struct {
	autoscalingiface.AutoScalingAPI

	groups    map[string]*autoscaling.Group
	ownership map[string]string

	resized  []*autoscaling.UpdateAutoScalingGroupInput
	suspends []*autoscaling.ScalingProcessQuery
	resumes  []*autoscaling.ScalingProcessQuery
}

func (s *stubAutoScaling) DescribeAutoScalingGroups(
	input *autoscaling.DescribeAutoScalingGroupsInput,
) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	output := &autoscaling.DescribeAutoScalingGroupsOutput{}
	for _, name := range aws.StringValueSlice(input.AutoScalingGroupNames) {
		if group, ok := s.groups[name]; ok {
			output.AutoScalingGroups = append(output.AutoScalingGroups, group)
		}
	}
	return output, nil
}

func (s *stubAutoScaling) DescribeAutoScalingGroupsPages(
	input *autoscaling.DescribeAutoScalingGroupsInput,
	fn func(*autoscaling.DescribeAutoScalingGroupsOutput, bool) bool,
) error {
	output := &autoscaling.DescribeAutoScalingGroupsOutput{}
	for _, group := range s.groups {
		output.AutoScalingGroups = append(output.AutoScalingGroups, group)
	}
	fn(output, true)
	return nil
}

func (s *stubAutoScaling) UpdateAutoScalingGroup(
	input *autoscaling.UpdateAutoScalingGroupInput,
) (*autoscaling.UpdateAutoScalingGroupOutput, error) {
	s.resized = append(s.resized, input)
	return &autoscaling.UpdateAutoScalingGroupOutput{}, nil
}

func (s *stubAutoScaling) SuspendProcesses(
	input *autoscaling.ScalingProcessQuery,
) (*autoscaling.SuspendProcessesOutput, error) {
	s.suspends = append(s.suspends, input)
	return &autoscaling.SuspendProcessesOutput{}, nil
}

func (s *stubAutoScaling) ResumeProcesses(
	input *autoscaling.ScalingProcessQuery,
) (*autoscaling.ResumeProcessesOutput, error) {
	s.resumes = append(s.resumes, input)
	return &autoscaling.ResumeProcessesOutput{}, nil
}

func (s *stubAutoScaling) DescribeAutoScalingInstances(
	input *autoscaling.DescribeAutoScalingInstancesInput,
) (*autoscaling.DescribeAutoScalingInstancesOutput, error) {
	output := &autoscaling.DescribeAutoScalingInstancesOutput{}
	for _, id := range aws.StringValueSlice(input.InstanceIds) {
		if group, ok := s.ownership[id]; ok {
			output.AutoScalingInstances = append(output.AutoScalingInstances,
				&autoscaling.InstanceDetails{
					InstanceId:           aws.String(id),
					AutoScalingGroupName: aws.String(group),
				})
		}
	}
	return output, nil
}

type stubEC2 struct {
	ec2iface.EC2API

	instancesByDNS map[string]*ec2.Instance
	terminated     []string
	describeErr    error
}

func (s *stubEC2) DescribeInstances(input *ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
	if s.describeErr != nil {
		return nil, s.describeErr
	}
	output := &ec2.DescribeInstancesOutput{}
	for _, filter := range input.Filters {
		if aws.StringValue(filter.Name) != "private-dns-name" {
			continue
		}
		for _, dns := range aws.StringValueSlice(filter.Values) {
			if instance, ok := s.instancesByDNS[dns]; ok {
				output.Reservations = append(output.Reservations,
					&ec2.Reservation{Instances: []*ec2.Instance{instance}})
			}
		}
	}
	return output, nil
}

func (s *stubEC2) TerminateInstances(input *ec2.TerminateInstancesInput) (*ec2.TerminateInstancesOutput, error) {
	s.terminated = append(s.terminated, aws.StringValueSlice(input.InstanceIds)...)
	return &ec2.TerminateInstancesOutput{}, nil
}

var _ = Describe("Autoscaling group operations", func() {
	var asgStub *stubAutoScaling
	var ec2Stub *stubEC2
	var c *Client

	BeforeEach(func() {
		asgStub = &stubAutoScaling{
			groups: map[string]*autoscaling.Group{
				"workers": {
					AutoScalingGroupName: aws.String("workers"),
					MinSize:              aws.Int64(9),
					MaxSize:              aws.Int64(9),
					DesiredCapacity:      aws.Int64(9),
					Instances: []*autoscaling.Instance{
						{
							InstanceId:       aws.String("i-1"),
							AvailabilityZone: aws.String("eu-west-1a"),
							LifecycleState:   aws.String("InService"),
						},
						{
							InstanceId:       aws.String("i-2"),
							AvailabilityZone: aws.String("eu-west-1b"),
							LifecycleState:   aws.String("Terminating"),
						},
					},
					SuspendedProcesses: []*autoscaling.SuspendedProcess{
						{ProcessName: aws.String(ProcessAZRebalance)},
					},
				},
			},
			ownership: map[string]string{"i-1": "workers"},
		}
		ec2Stub = &stubEC2{
			instancesByDNS: map[string]*ec2.Instance{
				"ip-10-0-0-1.eu-west-1.compute.internal": {
					InstanceId:     aws.String("i-1"),
					PrivateDnsName: aws.String("ip-10-0-0-1.eu-west-1.compute.internal"),
					Placement:      &ec2.Placement{AvailabilityZone: aws.String("eu-west-1a")},
				},
			},
		}
		c = NewClientFromAPIs(asgStub, ec2Stub)
	})

	It("describes a group with its instances and suspended processes", func() {
		group, err := c.DescribeASG("workers")
		Expect(err).To(BeNil())
		Expect(group.Name).To(Equal("workers"))
		Expect(group.MinSize).To(Equal(int64(9)))
		Expect(group.Instances).To(HaveLen(2))
		Expect(group.SuspendedProcesses.Has(ProcessAZRebalance)).To(BeTrue())
		Expect(group.InServiceCount()).To(Equal(1))
	})

	It("reports a missing group as not found", func() {
		_, err := c.DescribeASG("ghost")
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
	})

	It("resizes desired capacity and max size together", func() {
		Expect(c.ResizeASG("workers", 12, 12)).To(Succeed())
		Expect(asgStub.resized).To(HaveLen(1))
		Expect(aws.Int64Value(asgStub.resized[0].DesiredCapacity)).To(Equal(int64(12)))
		Expect(aws.Int64Value(asgStub.resized[0].MaxSize)).To(Equal(int64(12)))
		Expect(asgStub.resized[0].MinSize).To(BeNil())
	})

	It("suspends and resumes named scaling processes", func() {
		Expect(c.SuspendProcesses("workers", SuspendedDuringRoll)).To(Succeed())
		Expect(asgStub.suspends).To(HaveLen(1))
		Expect(aws.StringValueSlice(asgStub.suspends[0].ScalingProcesses)).
			To(Equal(SuspendedDuringRoll))

		Expect(c.ResumeProcesses("workers", ResumedAfterRoll)).To(Succeed())
		Expect(asgStub.resumes).To(HaveLen(1))
		Expect(aws.StringValueSlice(asgStub.resumes[0].ScalingProcesses)).
			To(Equal(ResumedAfterRoll))
	})

	It("finds the group owning an instance", func() {
		name, err := c.FindASGForInstance("i-1")
		Expect(err).To(BeNil())
		Expect(name).To(Equal("workers"))
	})

	It("reports an unowned instance as not found", func() {
		_, err := c.FindASGForInstance("i-unknown")
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
	})

	It("lists all the groups", func() {
		names, err := c.ListASGs()
		Expect(err).To(BeNil())
		Expect(names).To(Equal([]string{"workers"}))
	})

	It("correlates a node to its instance by private DNS name", func() {
		instance, err := c.DescribeInstanceByPrivateDNS("ip-10-0-0-1.eu-west-1.compute.internal")
		Expect(err).To(BeNil())
		Expect(instance.ID).To(Equal("i-1"))
		Expect(instance.Zone).To(Equal("eu-west-1a"))
	})

	It("reports a missing instance as not found", func() {
		_, err := c.DescribeInstanceByPrivateDNS("ip-10-0-0-99.eu-west-1.compute.internal")
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
	})

	It("terminates an instance by id", func() {
		Expect(c.TerminateInstance("i-1")).To(Succeed())
		Expect(ec2Stub.terminated).To(Equal([]string{"i-1"}))
	})
})
