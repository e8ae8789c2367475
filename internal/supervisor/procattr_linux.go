package supervisor

import "syscall"

// sysProcAttr keeps the child in the supervisor's process group, so a Ctrl+C
// in the terminal reaches both. Pdeathsig is a Linux-only safety net: if the
// supervisor dies without reaping, the kernel sends SIGTERM to the child.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGTERM,
	}
}
