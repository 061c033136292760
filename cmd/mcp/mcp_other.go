//go:build !linux

package mcp

import (
	"fmt"
	"os"
)

func Run(version string) int {
	fmt.Fprintln(os.Stderr, "connflurry mcp: only supported on linux")
	return 1
}
