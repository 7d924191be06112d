//go:build unix

// Package procgroup starts child tools in their own process group so a
// cancelled context takes down the tool and anything it forked.
package procgroup

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Configure must be called before cmd.Start. cmd has to come from
// exec.CommandContext, otherwise Start rejects the Cancel hook.
func Configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// negative pid signals the whole group
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
}
