/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

package cloud

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/log"
)

// DescribeInstanceByPrivateDNS returns the running instance whose
// private DNS name matches the given node name, or ErrNotFound
func (c *Client) DescribeInstanceByPrivateDNS(privateDNS string) (*Instance, error) {
	output, err := c.ec2.DescribeInstances(&ec2.DescribeInstancesInput{
		Filters: []*ec2.Filter{
			{
				Name:   aws.String("private-dns-name"),
				Values: aws.StringSlice([]string{privateDNS}),
			},
			{
				Name:   aws.String("instance-state-name"),
				Values: aws.StringSlice([]string{"running"}),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("while describing instance %v: %w", privateDNS, err)
	}

	for _, reservation := range output.Reservations {
		for _, instance := range reservation.Instances {
			result := &Instance{
				ID:             aws.StringValue(instance.InstanceId),
				PrivateDNSName: aws.StringValue(instance.PrivateDnsName),
			}
			if instance.Placement != nil {
				result.Zone = aws.StringValue(instance.Placement.AvailabilityZone)
			}
			return result, nil
		}
	}

	return nil, fmt.Errorf("no running instance with private DNS %v: %w", privateDNS, ErrNotFound)
}

// TerminateInstance terminates the instance with the given id
func (c *Client) TerminateInstance(id string) error {
	log.Info("Terminating instance", "instance", id)

	_, err := c.ec2.TerminateInstances(&ec2.TerminateInstancesInput{
		InstanceIds: aws.StringSlice([]string{id}),
	})
	if err != nil {
		return fmt.Errorf("while terminating instance %v: %w", id, err)
	}
	return nil
}
