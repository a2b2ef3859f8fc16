/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

// Package versions contains the version of the node cycler and the
// build information injected at link time
package versions

var (
	// Version is the version of the node cycler
	Version = "1.2.0"

	// BuildCommit is the commit sha of the build
	BuildCommit = "none"

	// BuildDate is the date of the build
	BuildDate = "unknown"
)

// Info collects the build information in a printable form
type Info struct {
	Version string
	Commit  string
	Date    string
}

// BuildInfo returns the build information of the running binary
func BuildInfo() Info {
	return Info{
		Version: Version,
		Commit:  BuildCommit,
		Date:    BuildDate,
	}
}
