package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pseudocoder/idelink/internal/config"
	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/storage"
)

// sessionListItem is the JSON shape of one row of "idelink sessions --json".
type sessionListItem struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// runSessions lists the backend sessions recorded in the state database,
// or shows one of them when an ID is given.
// Usage: idelink sessions [--state-db PATH] [--limit N] [--json] [ID]
func runSessions(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.idelink/config.toml)")
	stateDB := fs.String("state-db", "", "SQLite state database (default: ~/.idelink/idelink.db)")
	limit := fs.Int("limit", 20, "Maximum number of sessions to list")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	fs.Usage = usageFunc(fs, stderr, "sessions [options] [ID]", "List backend sessions, newest first, or show one session.")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return 2
	}

	dbPath, err := resolveStateDB(*configPath, *stateDB)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		if fs.NArg() == 1 {
			fmt.Fprintf(stderr, "Error: session %s not found\n", fs.Arg(0))
			return 1
		}
		fmt.Fprintln(stdout, "No sessions recorded.")
		return 0
	}

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open state database: %v\n", err)
		return 1
	}
	defer store.Close()

	if fs.NArg() == 1 {
		return showSession(store, fs.Arg(0), *jsonOutput, stdout, stderr)
	}

	sessions, err := store.ListSessions(*limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOutput {
		items := make([]sessionListItem, 0, len(sessions))
		for _, s := range sessions {
			items = append(items, toListItem(s))
		}
		return writeJSONTo(stdout, stderr, items)
	}

	if len(sessions) == 0 {
		fmt.Fprintln(stdout, "No sessions recorded.")
		return 0
	}
	writeSessionTable(stdout, sessions, time.Now())
	return 0
}

func showSession(store *storage.SQLiteStore, id string, jsonOutput bool, stdout, stderr io.Writer) int {
	s, err := store.GetSession(id)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", apperrors.GetMessage(err))
		return 1
	}
	if jsonOutput {
		return writeJSONTo(stdout, stderr, toListItem(s))
	}

	now := time.Now()
	fmt.Fprintf(stdout, "Session:    %s\n", s.ID)
	fmt.Fprintf(stdout, "Status:     %s\n", s.Status)
	fmt.Fprintf(stdout, "Endpoint:   %s\n", s.Endpoint)
	fmt.Fprintf(stdout, "Started:    %s (%s ago)\n", s.StartedAt.Local().Format(time.RFC3339), formatUptime(int64(now.Sub(s.StartedAt).Seconds())))
	fmt.Fprintf(stdout, "Last seen:  %s (%s ago)\n", s.LastSeen.Local().Format(time.RFC3339), formatUptime(int64(now.Sub(s.LastSeen).Seconds())))
	return 0
}

func toListItem(s *storage.Session) sessionListItem {
	return sessionListItem{
		ID:        s.ID,
		Endpoint:  s.Endpoint,
		Status:    string(s.Status),
		StartedAt: s.StartedAt,
		LastSeen:  s.LastSeen,
	}
}

// resolveStateDB returns stateDB, or the configured path when it is empty.
func resolveStateDB(configPath, stateDB string) (string, error) {
	if stateDB != "" {
		return stateDB, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	cfg.ApplyDefaults()
	return cfg.StateDB, nil
}

func writeJSONTo(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "Error: failed to encode JSON: %v\n", err)
		return 1
	}
	return 0
}

func writeSessionTable(stdout io.Writer, sessions []*storage.Session, now time.Time) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tENDPOINT\tSTARTED\tLAST SEEN")
	fmt.Fprintln(w, "--\t------\t--------\t-------\t---------")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s ago\t%s ago\n",
			s.ID,
			s.Status,
			s.Endpoint,
			formatUptime(int64(now.Sub(s.StartedAt).Seconds())),
			formatUptime(int64(now.Sub(s.LastSeen).Seconds())),
		)
	}
	w.Flush()
}
