//go:build !linux

package run

import (
	"fmt"
	"os"
)

// Run reports that the flurry needs epoll and TCP_INFO.
func Run(args []string, version string) int {
	fmt.Fprintln(os.Stderr, "connflurry: run is only supported on linux")
	return 1
}
