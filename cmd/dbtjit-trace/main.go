// Command dbtjit-trace is a debug/trace CLI over the dbtjit compiler
// pipeline (SPEC_FULL.md §6.1): it loads a serialized ExecutionUnit dump,
// either disassembles it through every back-end or runs it against a stub
// Guest and prints the result. Modeled on the teacher's own `cmd/wazero`
// CLI shape (subcommand-per-action, flags per subcommand) but built on the
// pack's cobra/pflag stack instead of stdlib `flag` (SPEC_FULL.md §4.9).
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/retrojit/dbtjit"
	"github.com/retrojit/dbtjit/internal/backend"
	"github.com/retrojit/dbtjit/internal/dump"
)

// toBackendRegisterAddressFunc adapts the CLI's plain (offset, stride)
// function shape to backend.RegisterAddressFunc, so main.go itself never
// needs to spell out backend.RegisterAddress literals inline.
func toBackendRegisterAddressFunc(fn func(uint32) (int32, int32)) backend.RegisterAddressFunc {
	return func(index uint32) backend.RegisterAddress {
		offset, stride := fn(index)
		return backend.RegisterAddress{Offset: offset, Stride: stride}
	}
}

func main() {
	root := &cobra.Command{
		Use:   "dbtjit-trace",
		Short: "Inspect and execute dbtjit ExecutionUnit dumps",
	}
	root.AddCommand(newDisasmCmd(), newRunCmd(), newStatsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dbtjit-trace:", err)
		os.Exit(1)
	}
}

func loadDump(path string) (*dbtjit.ExecutionUnit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return dump.ReadJSON(f)
}

func newDisasmCmd() *cobra.Command {
	var opt, regs, amd64Flag, arm64Flag, bytecodeFlag bool
	cmd := &cobra.Command{
		Use:   "disasm <dump>",
		Short: "Print IR and back-end disassembly for a dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eu, err := loadDump(args[0])
			if err != nil {
				return err
			}
			fmt.Println("=== IR ===")
			if opt {
				eu = dbtjit.Optimize(eu)
			}
			fmt.Print(eu.Disassemble())

			regAddr := identityRegisterAddress
			if amd64Flag {
				if err := disasmBackend(cmd.OutOrStdout(), "amd64", must(dbtjit.NewNativeCompiler(dbtjit.CompilerConfig{UseFastmem: false})), regAddr, eu); err != nil {
					return err
				}
			}
			if arm64Flag {
				if err := disasmBackend(cmd.OutOrStdout(), "arm64", must(dbtjit.NewNativeCompiler(dbtjit.CompilerConfig{UseFastmem: false})), regAddr, eu); err != nil {
					return err
				}
			}
			if bytecodeFlag || (!amd64Flag && !arm64Flag) {
				bc := dbtjit.NewBytecodeCompiler(dbtjit.CompilerConfig{})
				if err := disasmBackend(cmd.OutOrStdout(), "bytecode", bc, regAddr, eu); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opt, "optimize", false, "run ConstantPropagation+DeadCodeElimination first")
	cmd.Flags().BoolVar(&regs, "regs", false, "unused, reserved for a future register-address mapping flag")
	cmd.Flags().BoolVar(&amd64Flag, "amd64", false, "also disassemble the amd64 back-end's output")
	cmd.Flags().BoolVar(&arm64Flag, "arm64", false, "also disassemble the arm64 back-end's output")
	cmd.Flags().BoolVar(&bytecodeFlag, "bytecode", false, "also disassemble the bytecode back-end's output")
	return cmd
}

func must(c dbtjit.Compiler, ok bool) dbtjit.Compiler {
	if !ok {
		return nil
	}
	return c
}

func disasmBackend(w io.Writer, name string, c dbtjit.Compiler, regAddr func(uint32) (int32, int32), eu *dbtjit.ExecutionUnit) error {
	if c == nil {
		fmt.Fprintf(w, "\n=== %s: unavailable on this host ===\n", name)
		return nil
	}
	c.SetRegisterAddressCallback(toBackendRegisterAddressFunc(regAddr))
	routine, err := c.Compile(eu.Copy())
	if err != nil {
		fmt.Fprintf(w, "\n=== %s: compile failed: %v ===\n", name, err)
		return nil
	}
	fmt.Fprintf(w, "\n=== %s ===\n%s\n", name, routine.Disassemble())
	return nil
}

func newRunCmd() *cobra.Command {
	var backend string
	var regBytes, memBytes int
	cmd := &cobra.Command{
		Use:   "run <dump>",
		Short: "Run a dump against a stub guest and print its exit code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eu, err := loadDump(args[0])
			if err != nil {
				return err
			}
			g := dump.NewStubGuest(regBytes, memBytes)

			var c dbtjit.Compiler
			switch backend {
			case "bytecode":
				c = dbtjit.NewBytecodeCompiler(dbtjit.CompilerConfig{})
			case "amd64", "arm64":
				nc, ok := dbtjit.NewNativeCompiler(dbtjit.CompilerConfig{})
				if !ok {
					return fmt.Errorf("native back-end unavailable on this host (GOARCH mismatch)")
				}
				c = nc
			case "interpreter":
				c = nil
			default:
				return fmt.Errorf("unknown --backend %q (want bytecode, amd64, arm64, or interpreter)", backend)
			}

			if c == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "exit code:", dbtjit.Interpret(eu, g))
				return nil
			}

			c.SetRegisterAddressCallback(toBackendRegisterAddressFunc(identityRegisterAddress))
			routine, err := c.Compile(eu)
			if err != nil {
				return fmt.Errorf("compile: %w", err)
			}
			if _, err := routine.Prepare(true); err != nil {
				return fmt.Errorf("prepare: %w", err)
			}
			exit := routine.Execute(g, 0, 0)
			fmt.Fprintln(cmd.OutOrStdout(), "exit code:", exit)
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "interpreter", "bytecode, amd64, arm64, or interpreter")
	cmd.Flags().IntVar(&regBytes, "reg-bytes", 4096, "stub guest register file size")
	cmd.Flags().IntVar(&memBytes, "mem-bytes", 1<<20, "stub guest linear memory size")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <dump>",
		Short: "Print instruction counts and opcode histogram for a dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eu, err := loadDump(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "instructions: %d\n", eu.Len())
			return nil
		},
	}
}

// identityRegisterAddress is the stub register-address mapping the run/
// disasm subcommands use: a flat 8-byte-stride layout matching
// internal/dump.StubGuest's own layout, since this CLI has no real
// front-end register map to install.
func identityRegisterAddress(index uint32) (offset, stride int32) {
	return int32(index) * 8, 0
}
