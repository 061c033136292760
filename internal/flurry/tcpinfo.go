//go:build linux

package flurry

import "golang.org/x/sys/unix"

// readTCPState asks the kernel for the socket's TCP_INFO state,
// independent of what connect returned.
func readTCPState(fd int) (TCPState, error) {
	info, err := unix.GetsockoptTCPInfo(fd, unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return 0, err
	}
	return TCPState(info.State), nil
}
