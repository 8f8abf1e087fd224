//go:build windows

package tooling

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}

// killGroup terminates the command. Windows has no process groups in the
// POSIX sense; direct children are killed via the process handle.
func killGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
