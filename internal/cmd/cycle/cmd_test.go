/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

package cycle

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/cycler"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// parseFlags runs a bare command carrying the roll flags, returning the
// command and the bound values
func parseFlags(args ...string) (*cobra.Command, cycler.Config) {
	var flagCfg cycler.Config
	cmd := &cobra.Command{Use: "cycle", Run: func(cmd *cobra.Command, args []string) {}}
	addRollFlags(cmd, &flagCfg)
	cmd.SetArgs(args)
	Expect(cmd.Execute()).To(Succeed())
	return cmd, flagCfg
}

var _ = Describe("Building the roll configuration", func() {
	var configFile string

	BeforeEach(func() {
		dir, err := ioutil.TempDir(os.TempDir(), "cycle_")
		Expect(err).To(BeNil())
		configFile = filepath.Join(dir, "config.yaml")
		Expect(ioutil.WriteFile(configFile, []byte(`
role: worker
batchSize: 6
drainTimeout: 20m
`), 0o600)).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.RemoveAll(filepath.Dir(configFile))).To(Succeed())
	})

	It("lets a flag set on the command line win over the file", func() {
		cmd, flagCfg := parseFlags("--batch-size=9")

		cfg, err := buildConfig(cmd, configFile, flagCfg)
		Expect(err).To(BeNil())
		Expect(cfg.BatchSize).To(Equal(9))
		Expect(cfg.Role).To(Equal("worker"))
		Expect(cfg.DrainTimeout).To(Equal(20 * time.Minute))
	})

	It("lets a file value win over a flag default", func() {
		cmd, flagCfg := parseFlags()

		cfg, err := buildConfig(cmd, configFile, flagCfg)
		Expect(err).To(BeNil())
		Expect(cfg.BatchSize).To(Equal(6))
		Expect(cfg.DrainTimeout).To(Equal(20 * time.Minute))
	})

	It("generates a retire time when none is given", func() {
		cmd, flagCfg := parseFlags("--role=worker")

		cfg, err := buildConfig(cmd, "", flagCfg)
		Expect(err).To(BeNil())
		Expect(cfg.RetireTime).NotTo(BeEmpty())

		// the token must be a valid label value, so no colons
		Expect(cfg.RetireTime).NotTo(ContainSubstring(":"))
		_, err = time.Parse("20060102-150405", cfg.RetireTime)
		Expect(err).To(BeNil())
	})

	It("keeps the retire time passed to resume a roll", func() {
		cmd, flagCfg := parseFlags("--role=worker", "--retire-time=20220301-100000")

		cfg, err := buildConfig(cmd, "", flagCfg)
		Expect(err).To(BeNil())
		Expect(cfg.RetireTime).To(Equal("20220301-100000"))
	})

	It("rejects a merged configuration that fails validation", func() {
		cmd, flagCfg := parseFlags("--role=worker", "--batch-size=4")

		_, err := buildConfig(cmd, "", flagCfg)
		Expect(err).To(HaveOccurred())
	})
})
