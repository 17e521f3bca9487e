package util

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	// ListenFdsEnvKey is the socket-activation variable holding the number of
	// listening sockets passed in, starting at ListenFdsStart.
	ListenFdsEnvKey = "LISTEN_FDS"
	// ListenPidEnvKey names the process the sockets are meant for.
	ListenPidEnvKey = "LISTEN_PID"
	// ListenFdsStart is the first inherited descriptor.
	ListenFdsStart = 3
)

// ErrAddrInUse wraps listen failures caused by an occupied port.
var ErrAddrInUse = errors.New("address already in use")

// SetCloexec sets or clears the close-on-exec flag for a file descriptor.
func SetCloexec(fd uintptr, enabled bool) error {
	flags, err := unix.FcntlInt(fd, unix.F_GETFD, 0)
	if err != nil {
		return fmt.Errorf("fcntl F_GETFD failed for fd %d: %w", fd, err)
	}
	if enabled {
		flags |= unix.FD_CLOEXEC
	} else {
		flags &^= unix.FD_CLOEXEC
	}
	if _, err := unix.FcntlInt(fd, unix.F_SETFD, flags); err != nil {
		return fmt.Errorf("fcntl F_SETFD failed for fd %d: %w", fd, err)
	}
	return nil
}

// isCloexecSet reports whether FD_CLOEXEC is set on fd.
func isCloexecSet(fd uintptr) (bool, error) {
	flags, err := unix.FcntlInt(fd, unix.F_GETFD, 0)
	if err != nil {
		return false, fmt.Errorf("fcntl F_GETFD failed for fd %d: %w", fd, err)
	}
	return flags&unix.FD_CLOEXEC != 0, nil
}

// NewListenerFromFD creates a net.Listener from an inherited file descriptor.
// The descriptor is marked close-on-exec and owned by the returned listener.
func NewListenerFromFD(fd uintptr) (net.Listener, error) {
	if err := SetCloexec(fd, true); err != nil {
		return nil, fmt.Errorf("failed to set FD_CLOEXEC on inherited FD %d: %w", fd, err)
	}
	file := os.NewFile(fd, fmt.Sprintf("listener-from-fd-%d", fd))
	if file == nil {
		return nil, fmt.Errorf("os.NewFile returned nil for FD %d", fd)
	}
	// FileListener dups the descriptor, so the original is closed either way.
	defer file.Close()

	listener, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("net.FileListener failed for FD %d: %w", fd, err)
	}
	return listener, nil
}

// InheritedListenerFDs returns the descriptors handed over through
// LISTEN_FDS/LISTEN_PID, or nil when none were passed to this process.
func InheritedListenerFDs() ([]uintptr, error) {
	fdsEnv := os.Getenv(ListenFdsEnvKey)
	if fdsEnv == "" {
		return nil, nil
	}
	if pidEnv := os.Getenv(ListenPidEnvKey); pidEnv != "" {
		pid, err := strconv.Atoi(pidEnv)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", ListenPidEnvKey, pidEnv, err)
		}
		if pid != os.Getpid() {
			return nil, nil
		}
	}

	n, err := strconv.Atoi(strings.TrimSpace(fdsEnv))
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", ListenFdsEnvKey, fdsEnv, err)
	}
	if n < 0 {
		return nil, fmt.Errorf("invalid negative %s value: %d", ListenFdsEnvKey, n)
	}
	fds := make([]uintptr, 0, n)
	for i := 0; i < n; i++ {
		fds = append(fds, uintptr(ListenFdsStart+i))
	}
	return fds, nil
}

// CreateListener opens a new TCP listener on address. An occupied port is
// reported as ErrAddrInUse.
func CreateListener(network, address string) (net.Listener, error) {
	if network != "tcp" && network != "tcp4" && network != "tcp6" {
		return nil, fmt.Errorf("unsupported network type: %s, only 'tcp', 'tcp4', or 'tcp6' are supported", network)
	}
	l, err := net.Listen(network, address)
	if err != nil {
		if IsAddrInUse(err) {
			return nil, fmt.Errorf("%w: %s", ErrAddrInUse, address)
		}
		return nil, fmt.Errorf("failed to listen on %s %s: %w", network, address, err)
	}
	return l, nil
}

// Listen returns the first socket-activated listener when one was passed to
// this process, and otherwise a fresh TCP listener on address. Extra
// inherited sockets are closed.
func Listen(address string) (l net.Listener, inherited bool, err error) {
	fds, err := InheritedListenerFDs()
	if err != nil {
		return nil, false, err
	}
	if len(fds) == 0 {
		l, err = CreateListener("tcp", address)
		return l, false, err
	}
	for _, extra := range fds[1:] {
		unix.Close(int(extra))
	}
	l, err = NewListenerFromFD(fds[0])
	if err != nil {
		return nil, true, err
	}
	return l, true, nil
}

// IsAddrInUse checks if the error indicates an "address already in use" condition.
func IsAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAddrInUse) || errors.Is(err, unix.EADDRINUSE) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "address already in use")
}

// PortOf returns the TCP port of addr, or 0 if it has none.
func PortOf(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	if addr == nil {
		return 0
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return p
}
