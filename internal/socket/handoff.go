package socket

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
)

const (
	// EnvListenFD names the descriptor number of the inherited listener in
	// the child's environment.
	EnvListenFD = "LISTEN_FD"

	// firstExtraFD is the descriptor number of ExtraFiles[0] in the child.
	firstExtraFD = 3
)

// ErrNotSupervised is returned by FromEnv when no listener was handed down.
var ErrNotSupervised = errors.New(EnvListenFD + " is not set")

// Handoff is the single platform-coupled piece of the socket protocol: it
// turns the listening descriptor into an inherited file plus an environment
// variable naming its number in the child.
type Handoff struct {
	file *os.File
}

// Apply appends the listener to cmd.ExtraFiles and sets LISTEN_FD to the
// number the child will see it under. cmd.Env is initialised from the current
// environment if it is nil.
func (h Handoff) Apply(cmd *exec.Cmd) {
	fd := firstExtraFD + len(cmd.ExtraFiles)
	cmd.ExtraFiles = append(cmd.ExtraFiles, h.file)

	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, EnvListenFD+"="+strconv.Itoa(fd))
}

// FromEnv recovers the inherited listener inside a supervised child. Go
// artifacts can call it instead of net.Listen.
func FromEnv() (net.Listener, error) {
	v, ok := os.LookupEnv(EnvListenFD)
	if !ok {
		return nil, ErrNotSupervised
	}
	fd, err := strconv.Atoi(v)
	if err != nil || fd < 0 {
		return nil, fmt.Errorf("invalid %s=%q", EnvListenFD, v)
	}

	f := os.NewFile(uintptr(fd), "listener")
	if f == nil {
		return nil, fmt.Errorf("invalid descriptor %d", fd)
	}
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("listener from fd %d: %w", fd, err)
	}
	return ln, nil
}
