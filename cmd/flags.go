package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/pseudocoder/idelink/internal/config"
)

// configFlags are the connection and surface flags shared by start and doctor.
type configFlags struct {
	configPath     string
	serverURL      string
	authToken      string
	tlsCAFile      string
	tlsFingerprint string
	mdns           bool
	workspace      string
	stateDB        string
	controlSocket  string
	logLevel       string
	logFile        string
	shell          string
	historyLines   int
	streamOutput   bool
}

func (f *configFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "Path to config file (default: ~/.idelink/config.toml)")
	fs.StringVar(&f.serverURL, "url", "", "Backend websocket URL (default: "+config.DefaultServerURL+")")
	fs.StringVar(&f.authToken, "token", "", "Bearer token sent on connect")
	fs.StringVar(&f.tlsCAFile, "tls-ca", "", "PEM bundle used to verify wss:// backends")
	fs.StringVar(&f.tlsFingerprint, "tls-fingerprint", "", "Pin the backend certificate by SHA-256 fingerprint")
	fs.BoolVar(&f.mdns, "mdns", false, "Discover the backend on the local network when no URL is set")
	fs.StringVar(&f.workspace, "workspace", "", "Workspace root (default: current directory)")
	fs.StringVar(&f.stateDB, "state-db", "", "SQLite state database (default: ~/.idelink/idelink.db)")
	fs.StringVar(&f.controlSocket, "socket", "", "Control socket path (default: ~/.idelink/control.sock)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.logFile, "log-file", "", "Write logs to this file instead of stderr")
	fs.StringVar(&f.shell, "shell", "", "Shell for terminals (default: $SHELL)")
	fs.IntVar(&f.historyLines, "history", 0, "Lines of output kept per terminal")
	fs.BoolVar(&f.streamOutput, "stream-output", false, "Forward terminal output to the backend as it arrives")
}

// load reads the config file and merges explicitly set flags over it.
// Environment overrides are applied last, then defaults.
func (f *configFlags) load(fs *flag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	explicitFlags := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) {
		explicitFlags[fl.Name] = true
	})

	if explicitFlags["url"] {
		cfg.ServerURL = f.serverURL
	}
	if explicitFlags["token"] {
		cfg.AuthToken = f.authToken
	}
	if explicitFlags["tls-ca"] {
		cfg.TLSCAFile = f.tlsCAFile
	}
	if explicitFlags["tls-fingerprint"] {
		cfg.TLSFingerprint = f.tlsFingerprint
	}
	if explicitFlags["mdns"] {
		cfg.MdnsDiscover = f.mdns
	}
	if explicitFlags["workspace"] {
		cfg.Workspace = f.workspace
	}
	if explicitFlags["state-db"] {
		cfg.StateDB = f.stateDB
	}
	if explicitFlags["socket"] {
		cfg.ControlSocket = f.controlSocket
	}
	if explicitFlags["log-level"] {
		cfg.LogLevel = f.logLevel
	}
	if explicitFlags["log-file"] {
		cfg.LogFile = f.logFile
	}
	if explicitFlags["shell"] {
		cfg.Shell = f.shell
	}
	if explicitFlags["history"] {
		cfg.HistoryLines = f.historyLines
	}
	if explicitFlags["stream-output"] {
		cfg.StreamCommandOutput = f.streamOutput
	}

	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	return cfg, nil
}

// socketFlags locate the control socket of a running client.
type socketFlags struct {
	configPath string
	socket     string
}

func (f *socketFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "Path to config file (default: ~/.idelink/config.toml)")
	fs.StringVar(&f.socket, "socket", "", "Control socket path (default: ~/.idelink/control.sock)")
}

// resolve returns the socket path: the flag, then the config file, then the default.
func (f *socketFlags) resolve() (string, error) {
	if f.socket != "" {
		return f.socket, nil
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return "", err
	}
	cfg.ApplyDefaults()
	if cfg.ControlSocket == "" {
		return "", fmt.Errorf("cannot determine control socket path; pass --socket")
	}
	return cfg.ControlSocket, nil
}

// parseFlags runs fs.Parse and maps the outcome to an exit code.
// ok is false when the caller should return code.
func parseFlags(fs *flag.FlagSet, args []string) (code int, ok bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, false
		}
		return 1, false
	}
	return 0, true
}

func usageFunc(fs *flag.FlagSet, stderr io.Writer, synopsis, description string) func() {
	return func() {
		fmt.Fprintf(stderr, "Usage: idelink %s\n\n%s\n\nOptions:\n", synopsis, description)
		fs.PrintDefaults()
	}
}
