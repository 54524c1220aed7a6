package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/pseudocoder/idelink/internal/mdns"
)

// discoverAll browses for backends until ctx ends. Tests replace it.
var discoverAll = mdns.Discover

type discoveredBackend struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Version     string `json:"version,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// runDiscover lists the backends announcing themselves on the local network.
// Usage: idelink discover [--timeout D] [--json]
func runDiscover(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(stderr)

	timeout := fs.Duration("timeout", 3*time.Second, "How long to browse")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	fs.Usage = usageFunc(fs, stderr, "discover [options]", "List backends announced on the local network via mDNS.")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *timeout <= 0 {
		fmt.Fprintln(stderr, "Error: --timeout must be positive")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	backends, err := discoverAll(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: discovery failed: %v\n", err)
		return 1
	}

	items := make([]discoveredBackend, 0, len(backends))
	for _, b := range backends {
		items = append(items, discoveredBackend{
			Name:        b.Name,
			URL:         b.URL(),
			Version:     b.Version,
			Fingerprint: b.Fingerprint,
		})
	}
	if *jsonOutput {
		return writeJSONTo(stdout, stderr, items)
	}
	if len(items) == 0 {
		fmt.Fprintf(stdout, "No backends found within %s.\n", *timeout)
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tURL\tVERSION")
	for _, b := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\n", b.Name, b.URL, b.Version)
	}
	w.Flush()
	return 0
}
