/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

package status

import (
	"fmt"
	"io"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/report"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/snapshot"
)

// Status renders the progress recorded in the snapshot store at the
// given path
func Status(path string, verbose bool, w io.Writer) error {
	store, err := snapshot.NewStore(path)
	if err != nil {
		return err
	}

	if store.Len() == 0 {
		fmt.Fprintf(w, "No roll recorded in %v\n", path)
		return nil
	}

	first, err := store.First()
	if err != nil {
		return err
	}
	now, err := store.Get(snapshot.NowKey)
	if err != nil {
		return err
	}

	report.Render(w, first, now, verbose)
	return nil
}
