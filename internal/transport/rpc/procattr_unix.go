//go:build unix

package rpc

import (
	"os/exec"
	"syscall"
)

// setProcAttrs puts the server in its own process group so a terminal
// interrupt reaches only the client, which then shuts the server down.
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
