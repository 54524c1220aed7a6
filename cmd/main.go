package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" -o idelink ./cmd
var Version = "dev"

const usage = `idelink - connect a workspace to an assistant backend

Usage:
  idelink <command> [options]

Commands:
  start              Connect to the backend and serve its requests
  init               Write a starter config file
  status             Show the running client's status
  open <path> [L[:C]]             Open a file in the running client
  select <path> <range>...        Move the cursor (range is L:C-L:C, 0-based)
  type <path> <range> <text>      Replace a range as if typed
  save <path>        Save an open file
  close <path>       Close an open file
  sessions [id]      List recorded backend sessions, or show one
  settings           List, set, or remove stored settings
  discover           List backends announced on the local network
  doctor             Diagnose configuration and connectivity
  version            Print the version
Run 'idelink <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "start":
		return runStart(args[2:], stdout, stderr)
	case "init":
		return runInit(args[2:], stdout, stderr)
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "open":
		return runOpen(args[2:], stdout, stderr)
	case "select":
		return runSelect(args[2:], stdout, stderr)
	case "type":
		return runType(args[2:], stdout, stderr)
	case "save":
		return runSave(args[2:], stdout, stderr)
	case "close":
		return runClose(args[2:], stdout, stderr)
	case "sessions":
		return runSessions(args[2:], stdout, stderr)
	case "settings":
		return runSettings(args[2:], stdout, stderr)
	case "discover":
		return runDiscover(args[2:], stdout, stderr)
	case "doctor":
		return runDoctor(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "idelink %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
