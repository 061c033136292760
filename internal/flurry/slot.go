//go:build linux

package flurry

import (
	"net/netip"
	"time"

	"golang.org/x/sys/unix"

	ferrors "github.com/saveenergy/connflurry/pkg/errors"
)

type SlotState int

const (
	SlotIdle SlotState = iota
	SlotConnecting
	SlotEstablished
	SlotFailed
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotConnecting:
		return "connecting"
	case SlotEstablished:
		return "established"
	case SlotFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectionSlot owns at most one socket at a time. It holds a live
// descriptor iff its state is Connecting or Established.
type ConnectionSlot struct {
	index        int
	state        SlotState
	fd           int
	family       int
	gen          uint32
	target       *Target
	local        netip.Addr
	lastActivity time.Time
}

func newSlot(index int, target *Target) ConnectionSlot {
	return ConnectionSlot{index: index, fd: -1, target: target}
}

func (s *ConnectionSlot) State() SlotState { return s.state }

func (s *ConnectionSlot) inFlight() bool {
	return s.state == SlotConnecting || s.state == SlotEstablished
}

// open resolves the target (once per Target) and creates a non-blocking
// stream socket of the matching family.
func (s *ConnectionSlot) open() error {
	_, family, err := s.target.Resolve()
	if err != nil {
		return err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return ferrors.ErrSocket(s.index, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return ferrors.ErrSocket(s.index, err)
	}
	// Defer ephemeral port choice to connect so many attempts can share a
	// source address. Older kernels lack it; binding still works without.
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_BIND_ADDRESS_NO_PORT, 1)

	s.fd = fd
	s.family = family
	s.gen++
	return nil
}

// bind pins the socket to local. The wildcard address leaves the choice
// to the kernel.
func (s *ConnectionSlot) bind(local netip.Addr) error {
	s.local = local
	if !local.IsValid() {
		return nil
	}
	sa, err := sockaddrFor(local, 0, s.family)
	if err != nil {
		return ferrors.ErrBind(s.index, local.String(), err)
	}
	if err := unix.Bind(s.fd, sa); err != nil {
		return ferrors.ErrBind(s.index, local.String(), err)
	}
	return nil
}

// beginConnect issues the non-blocking connect and counts the attempt.
func (s *ConnectionSlot) beginConnect(stats *RunStats, now time.Time) error {
	s.lastActivity = now
	sa, _, _ := s.target.Resolve()

	err := unix.Connect(s.fd, sa)
	stats.Attempted++

	switch err {
	case nil:
		s.state = SlotEstablished
	case unix.EINPROGRESS:
		s.state = SlotConnecting
	default:
		s.state = SlotFailed
		return ferrors.ErrConnect(s.index, err)
	}
	return nil
}

// close releases the descriptor. The caller deregisters it first.
func (s *ConnectionSlot) close() {
	if s.fd >= 0 {
		unix.Close(s.fd)
	}
	s.fd = -1
	s.state = SlotIdle
	s.local = netip.Addr{}
	s.lastActivity = time.Time{}
}
