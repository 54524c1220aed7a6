package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pseudocoder/idelink/internal/ipc"
	"github.com/pseudocoder/idelink/internal/protocol"
)

// postControl sends one request to the running client. Tests replace it.
var postControl = func(socketPath, route string, body any) error {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	return ipc.NewClient(socketPath, controlTimeout).Post(ctx, route, body)
}

// controlCommand parses the shared flags of open/select/type/save/close and
// returns the socket path and positional arguments. ok is false when the
// caller should return code.
func controlCommand(name, synopsis, description string, minArgs int, args []string, stderr io.Writer) (socketPath string, rest []string, code int, ok bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	var sf socketFlags
	sf.register(fs)
	fs.Usage = usageFunc(fs, stderr, synopsis, description)

	if code, ok := parseFlags(fs, args); !ok {
		return "", nil, code, false
	}
	if fs.NArg() < minArgs {
		fs.Usage()
		return "", nil, 1, false
	}

	socketPath, err := sf.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return "", nil, 1, false
	}

	rest = fs.Args()
	// Paths are resolved here so the daemon's working directory does not matter.
	abs, err := filepath.Abs(rest[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return "", nil, 1, false
	}
	rest[0] = abs
	return socketPath, rest, 0, true
}

func runOpen(args []string, stdout, stderr io.Writer) int {
	socketPath, rest, code, ok := controlCommand("open", "open [options] <path> [line[:col]]",
		"Open a file in the running client and move the cursor to line:col (0-based).", 1, args, stderr)
	if !ok {
		return code
	}

	req := ipc.OpenRequest{Path: rest[0]}
	if len(rest) > 1 {
		pos, err := parsePosition(rest[1])
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		req.Range = &protocol.Range{Start: pos, End: pos}
	}
	return finishControl(postControl(socketPath, "/open", req), "Opened "+rest[0], stdout, stderr)
}

func runSelect(args []string, stdout, stderr io.Writer) int {
	socketPath, rest, code, ok := controlCommand("select", "select [options] <path> <range>...",
		"Set the selections of an open file. A range is L:C-L:C or L:C (0-based).", 2, args, stderr)
	if !ok {
		return code
	}

	ranges := make([]protocol.Range, 0, len(rest)-1)
	for _, arg := range rest[1:] {
		rng, err := parseRange(arg)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		ranges = append(ranges, rng)
	}
	return finishControl(postControl(socketPath, "/select", ipc.SelectRequest{Path: rest[0], Ranges: ranges}),
		fmt.Sprintf("Selected %d range(s) in %s", len(ranges), rest[0]), stdout, stderr)
}

func runType(args []string, stdout, stderr io.Writer) int {
	socketPath, rest, code, ok := controlCommand("type", "type [options] <path> <range> <text>",
		"Replace a range of an open file as if the user typed text.", 3, args, stderr)
	if !ok {
		return code
	}

	rng, err := parseRange(rest[1])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	text := strings.Join(rest[2:], " ")
	return finishControl(postControl(socketPath, "/type", ipc.TypeRequest{Path: rest[0], Range: rng, Text: text}),
		"Edited "+rest[0], stdout, stderr)
}

func runSave(args []string, stdout, stderr io.Writer) int {
	socketPath, rest, code, ok := controlCommand("save", "save [options] <path>",
		"Write an open file to disk.", 1, args, stderr)
	if !ok {
		return code
	}
	return finishControl(postControl(socketPath, "/save", ipc.PathRequest{Path: rest[0]}), "Saved "+rest[0], stdout, stderr)
}

func runClose(args []string, stdout, stderr io.Writer) int {
	socketPath, rest, code, ok := controlCommand("close", "close [options] <path>",
		"Close an open file.", 1, args, stderr)
	if !ok {
		return code
	}
	return finishControl(postControl(socketPath, "/close", ipc.PathRequest{Path: rest[0]}), "Closed "+rest[0], stdout, stderr)
}

func finishControl(err error, done string, stdout, stderr io.Writer) int {
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, done)
	return 0
}

// parsePosition parses "L" or "L:C".
func parsePosition(s string) (protocol.Position, error) {
	lineStr, colStr, hasCol := strings.Cut(s, ":")
	line, err := strconv.Atoi(lineStr)
	if err != nil || line < 0 {
		return protocol.Position{}, fmt.Errorf("invalid line in %q", s)
	}
	col := 0
	if hasCol {
		col, err = strconv.Atoi(colStr)
		if err != nil || col < 0 {
			return protocol.Position{}, fmt.Errorf("invalid column in %q", s)
		}
	}
	return protocol.Position{Line: line, Character: col}, nil
}

// parseRange parses "L:C-L:C". A single position is an empty range.
func parseRange(s string) (protocol.Range, error) {
	startStr, endStr, isSpan := strings.Cut(s, "-")
	start, err := parsePosition(startStr)
	if err != nil {
		return protocol.Range{}, err
	}
	if !isSpan {
		return protocol.Range{Start: start, End: start}, nil
	}
	end, err := parsePosition(endStr)
	if err != nil {
		return protocol.Range{}, err
	}
	if end.Before(start) {
		return protocol.Range{}, fmt.Errorf("range %q ends before it starts", s)
	}
	return protocol.Range{Start: start, End: end}, nil
}
