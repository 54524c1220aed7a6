package main

import (
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/pseudocoder/idelink/internal/storage"
)

// runSettings reads and writes the settings the backend stores through
// the workspace.
// Usage: idelink settings [--state-db PATH] [--json] [list | set [--secret] KEY VALUE | unset KEY]
func runSettings(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("settings", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.idelink/config.toml)")
	stateDB := fs.String("state-db", "", "SQLite state database (default: ~/.idelink/idelink.db)")
	jsonOutput := fs.Bool("json", false, "Output the list in JSON format")
	fs.Usage = usageFunc(fs, stderr, "settings [options] [list | set [--secret] KEY VALUE | unset KEY]",
		"List, set, or remove stored settings. Secrets are never listed.")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	action := "list"
	rest := fs.Args()
	if len(rest) > 0 {
		action, rest = rest[0], rest[1:]
	}

	var secret bool
	switch action {
	case "list":
		if len(rest) != 0 {
			fs.Usage()
			return 2
		}
	case "set":
		setFlags := flag.NewFlagSet("settings set", flag.ContinueOnError)
		setFlags.SetOutput(stderr)
		setFlags.BoolVar(&secret, "secret", false, "Store the value as a secret")
		setFlags.Usage = usageFunc(setFlags, stderr, "settings set [--secret] KEY VALUE", "Store a setting.")
		if code, ok := parseFlags(setFlags, rest); !ok {
			return code
		}
		rest = setFlags.Args()
		if len(rest) != 2 {
			setFlags.Usage()
			return 2
		}
	case "unset":
		if len(rest) != 1 {
			fs.Usage()
			return 2
		}
	default:
		fmt.Fprintf(stderr, "Error: unknown settings action %q\n", action)
		fs.Usage()
		return 2
	}

	dbPath, err := resolveStateDB(*configPath, *stateDB)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open state database: %v\n", err)
		return 1
	}
	defer store.Close()

	switch action {
	case "set":
		put := store.SetSetting
		if secret {
			put = store.SetSecret
		}
		if err := put(rest[0], rest[1]); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Set %s\n", rest[0])
		return 0
	case "unset":
		if err := store.DeleteSetting(rest[0]); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Removed %s\n", rest[0])
		return 0
	}

	settings, err := store.ListSettings()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *jsonOutput {
		return writeJSONTo(stdout, stderr, settings)
	}
	if len(settings) == 0 {
		fmt.Fprintln(stdout, "No settings stored.")
		return 0
	}
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(stdout, "%s = %s\n", k, settings[k])
	}
	return 0
}
