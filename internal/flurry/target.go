//go:build linux

package flurry

import (
	"fmt"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/sys/unix"

	ferrors "github.com/saveenergy/connflurry/pkg/errors"
)

// Target is the remote host:port, resolved at most once and shared
// read-only by every slot of a pool.
type Target struct {
	host string
	port string

	once   sync.Once
	addr   netip.AddrPort
	sa     unix.Sockaddr
	family int
	err    error
}

func NewTarget(host, port string) *Target {
	return &Target{host: host, port: port}
}

func (t *Target) String() string {
	return net.JoinHostPort(t.host, t.port)
}

// Resolve returns the cached socket address and family. Concurrent first
// callers block until the single lookup finishes.
func (t *Target) Resolve() (unix.Sockaddr, int, error) {
	t.once.Do(t.lookup)
	return t.sa, t.family, t.err
}

// AddrPort is valid once Resolve has succeeded.
func (t *Target) AddrPort() netip.AddrPort {
	t.once.Do(t.lookup)
	return t.addr
}

func (t *Target) lookup() {
	tcpAddr, err := net.ResolveTCPAddr("tcp", t.String())
	if err != nil {
		t.err = ferrors.ErrResolve(t.String(), err)
		return
	}
	ap := tcpAddr.AddrPort()
	ap = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())

	family := unix.AF_INET6
	if ap.Addr().Is4() {
		family = unix.AF_INET
	}
	sa, err := sockaddrFor(ap.Addr(), int(ap.Port()), family)
	if err != nil {
		t.err = ferrors.ErrResolve(t.String(), err)
		return
	}
	t.addr, t.sa, t.family = ap, sa, family
}

// sockaddrFor converts addr to a socket address of the given family. An
// invalid addr yields the family's wildcard address.
func sockaddrFor(addr netip.Addr, port int, family int) (unix.Sockaddr, error) {
	switch family {
	case unix.AF_INET:
		sa := &unix.SockaddrInet4{Port: port}
		if addr.IsValid() {
			if !addr.Is4() {
				return nil, fmt.Errorf("address %s is not IPv4: %w", addr, unix.EAFNOSUPPORT)
			}
			sa.Addr = addr.As4()
		}
		return sa, nil
	case unix.AF_INET6:
		sa := &unix.SockaddrInet6{Port: port}
		if addr.IsValid() {
			if addr.Is4() {
				return nil, fmt.Errorf("address %s is not IPv6: %w", addr, unix.EAFNOSUPPORT)
			}
			sa.Addr = addr.As16()
			if zone := addr.Zone(); zone != "" {
				if ifi, err := net.InterfaceByName(zone); err == nil {
					sa.ZoneId = uint32(ifi.Index)
				}
			}
		}
		return sa, nil
	}
	return nil, unix.EAFNOSUPPORT
}
