//go:build !unix

package procgroup

import "os/exec"

// Configure is a no-op where process groups are not available; the default
// exec.CommandContext kill of the direct child applies.
func Configure(cmd *exec.Cmd) {}
