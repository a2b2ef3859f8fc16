/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

// Package fileutils contains the utility functions about
// file management
package fileutils

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
)

// FileExists check if a file exists, and return an error otherwise
func FileExists(fileName string) (bool, error) {
	if _, err := os.Stat(fileName); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ReadFile reads the source file and outputs the content as bytes.
// If the file doesn't exist, it returns an empty buffer
func ReadFile(fileName string) ([]byte, error) {
	exists, err := FileExists(fileName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	content, err := ioutil.ReadFile(fileName) // #nosec
	if err != nil {
		return nil, err
	}

	return content, nil
}

// WriteFileAtomic replaces the contents of a certain file with the
// passed bytes, writing to a temporary file in the same directory and
// renaming it over the target so a crashed write never leaves a
// truncated file behind
func WriteFileAtomic(fileName string, contents []byte, perm os.FileMode) error {
	dir := filepath.Dir(fileName)
	tmp, err := ioutil.TempFile(dir, filepath.Base(fileName)+".tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err = tmp.Write(contents); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("while writing %v: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, fileName)
}
