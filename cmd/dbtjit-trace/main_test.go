package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/retrojit/dbtjit/internal/dump"
	"github.com/retrojit/dbtjit/internal/ir"
)

func writeDump(t *testing.T) string {
	t.Helper()
	a := ir.NewAssembler(1)
	r0 := a.ReadGuest(ir.Integer32, ir.ConstI16(0))
	one := a.Add(r0, ir.ConstI32(1))
	a.WriteGuest(ir.ConstI16(0), one)
	a.Exit(ir.ConstBool(true), ir.ConstI64(0))

	path := filepath.Join(t.TempDir(), "unit.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, dump.WriteJSON(f, a.Unit()))
	return path
}

func TestDisasmCmd_PrintsIRAndBytecode(t *testing.T) {
	path := writeDump(t)
	cmd := newDisasmCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--bytecode", path})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "=== bytecode ===")
}

func TestRunCmd_InterpreterBackend(t *testing.T) {
	path := writeDump(t)
	cmd := newRunCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--backend", "interpreter", "--reg-bytes", "64", "--mem-bytes", "64", path})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "exit code:")
}

func TestRunCmd_BytecodeBackend(t *testing.T) {
	path := writeDump(t)
	cmd := newRunCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--backend", "bytecode", "--reg-bytes", "64", "--mem-bytes", "64", path})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "exit code:")
}

func TestRunCmd_UnknownBackendErrors(t *testing.T) {
	path := writeDump(t)
	cmd := newRunCmd()
	cmd.SetArgs([]string{"--backend", "bogus", path})
	require.Error(t, cmd.Execute())
}

func TestStatsCmd_PrintsInstructionCount(t *testing.T) {
	path := writeDump(t)
	cmd := newStatsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "instructions:")
}
