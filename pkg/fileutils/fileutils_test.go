/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

package fileutils

import (
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("File reading and writing", func() {
	It("reports a missing file without error", func() {
		exists, err := FileExists(filepath.Join(tempDir, "missing"))
		Expect(err).To(BeNil())
		Expect(exists).To(BeFalse())
	})

	It("reads a missing file as an empty buffer", func() {
		content, err := ReadFile(filepath.Join(tempDir, "missing"))
		Expect(err).To(BeNil())
		Expect(content).To(BeEmpty())
	})

	It("writes a file atomically and reads it back", func() {
		target := filepath.Join(tempDir, "data.json")
		err := WriteFileAtomic(target, []byte("[1,2,3]"), 0o600)
		Expect(err).To(BeNil())

		content, err := ReadFile(target)
		Expect(err).To(BeNil())
		Expect(string(content)).To(Equal("[1,2,3]"))

		exists, err := FileExists(target)
		Expect(err).To(BeNil())
		Expect(exists).To(BeTrue())
	})

	It("replaces the previous content on rewrite", func() {
		target := filepath.Join(tempDir, "data.json")
		Expect(WriteFileAtomic(target, []byte("first"), 0o600)).To(Succeed())
		Expect(WriteFileAtomic(target, []byte("second"), 0o600)).To(Succeed())

		content, err := ReadFile(target)
		Expect(err).To(BeNil())
		Expect(string(content)).To(Equal("second"))
	})

	It("does not leave temporary files behind", func() {
		target := filepath.Join(tempDir, "clean.json")
		Expect(WriteFileAtomic(target, []byte("x"), 0o600)).To(Succeed())

		matches, err := filepath.Glob(filepath.Join(tempDir, "clean.json.tmp-*"))
		Expect(err).To(BeNil())
		Expect(matches).To(BeEmpty())
	})
})
