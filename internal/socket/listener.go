// Package socket owns the listening socket that outlives every child process.
//
// The supervisor binds the socket once at startup and never accepts on it.
// Each child instance inherits the descriptor (see Handoff) and accepts
// connections directly, so restarting the child never closes the port and
// never races another bind.
package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
)

// ErrNoBindableAddress is returned by Open when none of the addresses the
// host resolves to could be bound. The run cannot proceed without it.
var ErrNoBindableAddress = errors.New("no candidate address could be bound")

// Listener is a bound, listening socket that is never accepted on by the
// supervisor itself.
type Listener struct {
	ln   *net.TCPListener
	file *os.File
}

// Open resolves host to candidate addresses and binds+listens on the first one
// that succeeds. The bound address is logged.
func Open(ctx context.Context, host string, port int, logger *slog.Logger) (*Listener, error) {
	ips, err := resolve(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %w", ErrNoBindableAddress, host, err)
	}

	lc := net.ListenConfig{Control: reuseAddr}
	var errs []error
	for _, ip := range ips {
		candidate := net.JoinHostPort(ip.String(), strconv.Itoa(port))

		ln, err := lc.Listen(ctx, network(ip), candidate)
		if err != nil {
			logger.Debug("socket_bind_failed", "addr", candidate, "error", err)
			errs = append(errs, err)
			continue
		}

		tcp := ln.(*net.TCPListener)
		file, err := tcp.File()
		if err != nil {
			tcp.Close()
			errs = append(errs, fmt.Errorf("dup %s: %w", candidate, err))
			continue
		}

		logger.Info("socket_bound", "addr", tcp.Addr().String())
		return &Listener{ln: tcp, file: file}, nil
	}

	return nil, fmt.Errorf("%w: %s: %w", ErrNoBindableAddress,
		net.JoinHostPort(host, strconv.Itoa(port)), errors.Join(errs...))
}

// Addr returns the bound address. It does not change for the life of the run.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Handoff returns the inheritable form of the socket.
func (l *Listener) Handoff() Handoff {
	return Handoff{file: l.file}
}

// Close releases the socket. Only called at process exit (and in tests).
func (l *Listener) Close() error {
	return errors.Join(l.file.Close(), l.ln.Close())
}

// resolve returns the candidate IPs for host, in resolver order.
func resolve(ctx context.Context, host string) ([]net.IP, error) {
	if host == "" {
		return []net.IP{net.IPv4zero}, nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("host %q has no addresses", host)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}

func network(ip net.IP) string {
	if ip.To4() != nil {
		return "tcp4"
	}
	return "tcp6"
}
