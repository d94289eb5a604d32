// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cliapp wires the cobra/pflag command line onto the rest of the
// module: flag parsing, config-file merge, dump/sidecar loading, and the
// startup hints: external collaborators that sit outside the stub's core
// but are still part of a complete repository.
package cliapp

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/talismancer/vmcore-gdbstub/internal/config"
	"github.com/talismancer/vmcore-gdbstub/internal/log"
	"github.com/talismancer/vmcore-gdbstub/pkg/dumplib"
	"github.com/talismancer/vmcore-gdbstub/pkg/rspserver"
	"github.com/talismancer/vmcore-gdbstub/pkg/threadmodel"
)

type flags struct {
	coreFile    string
	hostname    string
	port        int
	processJSON string
	kernelJSON  string
	vmlinux     string
	verbose     bool
	configPath  string
}

// NewRootCommand builds the single-command CLI: open a vmcore, build a
// thread model, serve it, plus the -c config flag added by this
// repository's ambient stack.
func NewRootCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "vmcore-gdbstub",
		Short:         "Serve a Linux kernel vmcore over the GDB Remote Serial Protocol",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), &f, cmd.Flags())
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.coreFile, "corefile", "f", "", "path to the vmcore file (required)")
	fl.StringVarP(&f.hostname, "hostname", "a", "localhost", "address to bind")
	fl.IntVarP(&f.port, "port", "p", 1234, "TCP port to bind")
	fl.StringVarP(&f.processJSON, "process-json", "j", "", "process-mode task sidecar JSON (exclusive with -k)")
	fl.StringVarP(&f.kernelJSON, "kernel-json", "k", "", "kernel-with-tasks sidecar JSON (exclusive with -j)")
	fl.StringVarP(&f.vmlinux, "vmlinux", "v", "", "binary path printed in GDB setup hints")
	fl.BoolVarP(&f.verbose, "verbose", "d", false, "trace every RSP packet to stdout")
	fl.StringVarP(&f.configPath, "config", "c", "", "optional TOML file of defaults")

	return cmd
}

func run(ctx context.Context, f *flags, fl *pflag.FlagSet) error {
	if f.processJSON != "" && f.kernelJSON != "" {
		return fmt.Errorf("-j and -k are mutually exclusive")
	}
	if f.coreFile == "" {
		return fmt.Errorf("-f <corefile> is required")
	}

	if f.configPath != "" {
		cfg, err := config.Load(f.configPath)
		if err != nil {
			return err
		}
		config.ApplyDefaults(cfg, &f.hostname, &f.port, &f.verbose,
			fl.Changed("hostname"), fl.Changed("port"), fl.Changed("verbose"))
	}

	if f.verbose {
		log.SetLevel(log.Debug)
	}

	vc, err := dumplib.Open(f.coreFile)
	if err != nil {
		return fmt.Errorf("opening vmcore: %w", err)
	}
	defer vc.Close()

	mode, model, err := buildThreadModel(vc, f)
	if err != nil {
		return err
	}

	onBound := func() {
		var loadAddr uint64
		if mode == ModeProcess {
			loadAddr = model.LoadAddr
		}
		PrintStartupHints(os.Stdout, mode, f.hostname, f.port, f.vmlinux, vc.KernelOffset(), loadAddr)
	}

	return rspserver.Serve(ctx, f.hostname, f.port, vc, model.Model, onBound)
}

// builtModel bundles the constructed thread model with the process-mode
// load address the startup hint needs but the Model type doesn't
// otherwise carry.
type builtModel struct {
	Model    *threadmodel.Model
	LoadAddr uint64
}

func buildThreadModel(vc *dumplib.VMCore, f *flags) (Mode, *builtModel, error) {
	switch {
	case f.processJSON != "":
		sc, err := threadmodel.LoadSidecar(f.processJSON)
		if err != nil {
			return 0, nil, err
		}
		m, err := threadmodel.NewProcess(vc, sc)
		if err != nil {
			return 0, nil, err
		}
		return ModeProcess, &builtModel{Model: m, LoadAddr: sc.LoadAddr}, nil
	case f.kernelJSON != "":
		sc, err := threadmodel.LoadSidecar(f.kernelJSON)
		if err != nil {
			return 0, nil, err
		}
		m, err := threadmodel.NewKernelWithTasks(vc, sc)
		if err != nil {
			return 0, nil, err
		}
		return ModeKernelWithTasks, &builtModel{Model: m}, nil
	default:
		m, err := threadmodel.NewKernelOnly(vc)
		if err != nil {
			return 0, nil, err
		}
		return ModeKernelOnly, &builtModel{Model: m}, nil
	}
}
