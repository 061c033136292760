package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	history "github.com/saveenergy/connflurry/cmd/history"
	mcpcmd "github.com/saveenergy/connflurry/cmd/mcp"
	runcmd "github.com/saveenergy/connflurry/cmd/run"
)

var version = "dev"

var (
	runFlurry  = runcmd.Run
	runHistory = history.Run
	runMCP     = mcpcmd.Run
)

func main() {
	os.Exit(run(os.Args[1:], version))
}

func run(args []string, version string) int {
	if len(args) == 0 {
		return runFlurry(nil, version)
	}

	switch args[0] {
	case "run":
		return runFlurry(args[1:], version)
	case "history":
		return runHistory(args[1:], version)
	case "mcp":
		return runMCP(version)
	case "help", "--help":
		printUsage(os.Stdout)
		return 0
	case "version", "--version":
		fmt.Printf("connflurry %s\n", version)
		return 0
	default:
		// `connflurry -c 8 -t 1000 host` and `connflurry host` run directly.
		if strings.HasPrefix(args[0], "-") || len(args) == 1 || !isCommandLike(args[0]) {
			return runFlurry(args, version)
		}
		fmt.Fprintf(os.Stderr, "connflurry: unknown command %q\n\n", args[0])
		printUsage(os.Stderr)
		return 2
	}
}

// isCommandLike reports whether s looks like a mistyped subcommand rather
// than a hostname.
func isCommandLike(s string) bool {
	return !strings.ContainsAny(s, ".:")
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: connflurry <command> [args]

Commands:
  run       Open connections until a target count is established (default)
  history   List runs archived with -results
  mcp       Run as MCP server (stdio transport, for AI agents)
  version   Print version

Examples:
  connflurry -c 64 -t 100000 -p 8080 10.0.0.5
  connflurry run -b 192.168.1.12,192.168.1.14 -monitor :9100 target.local
  connflurry history -results runs.db
  connflurry mcp
`)
}
