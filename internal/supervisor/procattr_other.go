//go:build !linux

package supervisor

import "syscall"

// sysProcAttr keeps the child in the supervisor's process group. Pdeathsig is
// not available on non-Linux platforms.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}
