package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pseudocoder/idelink/internal/client"
	"github.com/pseudocoder/idelink/internal/ipc"
)

// controlTimeout bounds every control socket call from the CLI.
const controlTimeout = 5 * time.Second

// queryStatus fetches the running client's status. Tests replace it.
var queryStatus = func(socketPath string) (*client.Status, error) {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	var st client.Status
	if err := ipc.NewClient(socketPath, controlTimeout).Status(ctx, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var sf socketFlags
	sf.register(fs)
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	fs.Usage = usageFunc(fs, stderr, "status [options]", "Show the status of the running idelink client.")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	socketPath, err := sf.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	status, err := queryStatus(socketPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(stderr, "Error: failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	writeStatusOutput(stdout, status)
	return 0
}

func writeStatusOutput(stdout io.Writer, status *client.Status) {
	fmt.Fprintf(stdout, "idelink Status\n")
	fmt.Fprintf(stdout, "==============\n")
	fmt.Fprintf(stdout, "Connection:   %s\n", status.State)
	fmt.Fprintf(stdout, "Backend:      %s\n", status.Endpoint)
	if status.SessionID != "" {
		fmt.Fprintf(stdout, "Session:      %s\n", status.SessionID)
	} else {
		fmt.Fprintf(stdout, "Session:      (handshake pending)\n")
	}
	fmt.Fprintf(stdout, "Workspace:    %s\n", status.Workspace)
	if len(status.OpenFiles) > 0 {
		fmt.Fprintf(stdout, "Open files:   %s\n", strings.Join(status.OpenFiles, ", "))
	} else {
		fmt.Fprintf(stdout, "Open files:   none\n")
	}
	fmt.Fprintf(stdout, "Highlights:   %d\n", status.Highlights)
	fmt.Fprintf(stdout, "Pending:      %d requests, %d edit echoes\n", status.PendingRequests, status.OutstandingEchoes)
	fmt.Fprintf(stdout, "Handlers:     %d request kinds\n", len(status.Handlers))
	if len(status.Terminals) == 0 {
		fmt.Fprintf(stdout, "Terminals:    none\n")
	}
	for i, term := range status.Terminals {
		label := "Terminals:   "
		if i > 0 {
			label = "             "
		}
		state := "exited"
		if term.Running {
			state = "running"
		}
		fmt.Fprintf(stdout, "%s %s (%s, %s)\n", label, term.Name, term.Command, state)
	}
	fmt.Fprintf(stdout, "Uptime:       %s\n", formatUptime(status.UptimeSeconds))
}

func formatUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	if d < time.Minute {
		return fmt.Sprintf("%ds", seconds)
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
