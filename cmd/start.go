package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pseudocoder/idelink/internal/client"
	"github.com/pseudocoder/idelink/internal/config"
	"github.com/pseudocoder/idelink/internal/headless"
	"github.com/pseudocoder/idelink/internal/ipc"
	"github.com/pseudocoder/idelink/internal/mdns"
	"github.com/pseudocoder/idelink/internal/storage"
	idetls "github.com/pseudocoder/idelink/internal/tls"
	"github.com/pseudocoder/idelink/internal/transport"
)

// sessionTouchInterval is how often a running client refreshes its session's last_seen.
const sessionTouchInterval = 30 * time.Second

// discoverBackend finds a backend on the local network. Tests replace it.
var discoverBackend = mdns.DiscoverFirst

// runStart implements "idelink start": connect to the backend and serve its
// requests against a headless workspace until interrupted.
func runStart(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var cf configFlags
	cf.register(fs)
	fs.Usage = usageFunc(fs, stderr, "start [options]",
		"Connect to the assistant backend and serve its requests against the workspace.")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, err := cf.load(fs)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger, closeLog, err := initLogger(cfg.LogLevel, cfg.LogFile, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	endpoint, fingerprint, err := resolveEndpoint(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	tlsConfig, err := idetls.ClientConfig(idetls.ClientOptions{CAFile: cfg.TLSCAFile, Fingerprint: fingerprint})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StateDB), 0700); err != nil {
		fmt.Fprintf(stderr, "Error: failed to create state directory: %v\n", err)
		return 1
	}
	store, err := storage.NewSQLiteStore(cfg.StateDB)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open state database: %v\n", err)
		return 1
	}
	defer store.Close()

	// Terminal output can arrive before the client exists.
	var current atomic.Pointer[client.Client]
	wsOpts := headless.Options{
		Root:         cfg.Workspace,
		Store:        store,
		Shell:        cfg.Shell,
		HistoryLines: cfg.HistoryLines,
		Logger:       logger,
	}
	if cfg.StreamCommandOutput {
		wsOpts.OnTerminalOutput = func(_, line string) {
			if c := current.Load(); c != nil {
				if err := c.SendCommandOutput(line); err != nil {
					logger.WithError(err).Debug("dropping streamed terminal output")
				}
			}
		}
	}
	ws := headless.New(wsOpts)
	defer ws.Shutdown()

	if interval := cfg.WatchPollInterval(); interval > 0 {
		watcher := headless.NewWatcher(ws, headless.WatcherConfig{
			PollInterval: interval,
			OnError: func(err error) {
				logger.WithError(err).Warn("file watcher")
			},
		})
		watcher.Start()
		defer watcher.Stop()
	}

	header := http.Header{}
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	conn := transport.New(transport.Options{
		URL:         endpoint,
		Header:      header,
		TLSConfig:   tlsConfig,
		MatchByKind: cfg.KindMatching(),
		Logger:      logger,
	})

	c := client.New(client.Options{
		Transport: conn,
		Surface:   ws,
		Logger:    logger,
		Config:    cfg,
		Recorder:  store,
		Endpoint:  endpoint,
	})
	current.Store(c)
	defer c.Close()

	control := ipc.NewSocketServer(cfg.ControlSocket, ipc.NewRouter(c), logger)
	if err := control.Start(); err != nil {
		// The client still works without local control.
		fmt.Fprintf(stderr, "Warning: control socket unavailable: %v\n", err)
	} else {
		defer control.Stop()
	}

	writeStartBanner(stdout, cfg, endpoint)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Run(ctx)
	}()
	go touchSession(ctx, store, c, logger)
	go announceSession(ctx, conn.Ready(), c.WaitSession, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			exitCode = 1
		}
	case sig := <-sigCh:
		fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)
		cancel()
		<-errCh
	}
	cancel()

	if id := c.SessionID(); id != "" {
		if err := store.EndSession(id, time.Now()); err != nil {
			fmt.Fprintf(stderr, "Warning: failed to update session status: %v\n", err)
		}
	}
	return exitCode
}

// announceSession logs when the connection opens and when the backend
// assigns a session.
func announceSession(ctx context.Context, ready <-chan struct{}, wait func(context.Context) (string, error), logger logrus.FieldLogger) {
	select {
	case <-ctx.Done():
		return
	case <-ready:
	}
	logger.Info("Connected to backend")

	id, err := wait(ctx)
	if err != nil {
		return
	}
	logger.WithField("session", id).Info("Session established")
}

// touchSession keeps the session's last_seen current while the client runs.
func touchSession(ctx context.Context, store *storage.SQLiteStore, c *client.Client, logger logrus.FieldLogger) {
	ticker := time.NewTicker(sessionTouchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			id := c.SessionID()
			if id == "" {
				continue
			}
			if err := store.TouchSession(id, now); err != nil {
				logger.WithError(err).Debug("failed to touch session")
			}
		}
	}
}

// resolveEndpoint picks the backend URL and the certificate pin to trust.
// An mDNS-discovered backend supplies its own fingerprint unless one is configured.
func resolveEndpoint(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (string, string, error) {
	if cfg.ServerURL != "" {
		return cfg.ServerURL, cfg.TLSFingerprint, nil
	}
	if !cfg.MdnsDiscover {
		return config.DefaultServerURL, cfg.TLSFingerprint, nil
	}

	logger.WithField("timeout", cfg.MdnsTimeout()).Info("browsing for a backend")
	backend, err := discoverBackend(ctx, cfg.MdnsTimeout())
	if err != nil {
		return "", "", fmt.Errorf("backend discovery failed: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"name": backend.Name,
		"url":  backend.URL(),
	}).Info("discovered backend")

	fingerprint := cfg.TLSFingerprint
	if fingerprint == "" {
		fingerprint = backend.Fingerprint
	}
	return backend.URL(), fingerprint, nil
}

func writeStartBanner(stdout io.Writer, cfg *config.Config, endpoint string) {
	fmt.Fprintln(stdout, "")
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintln(stdout, "  idelink")
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintf(stdout, "  Backend:    %s\n", endpoint)
	fmt.Fprintf(stdout, "  Workspace:  %s\n", cfg.Workspace)
	fmt.Fprintf(stdout, "  Control:    %s\n", cfg.ControlSocket)
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintln(stdout, "Press Ctrl+C to stop.")
}

// runInit implements "idelink init": write a starter config if none exists.
func runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Where to write the config (default: ~/.idelink/config.toml)")
	serverURL := fs.String("url", "", "Backend websocket URL to record")
	fs.Usage = usageFunc(fs, stderr, "init [options]", "Write a starter config file. An existing file is left untouched.")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	path := *configPath
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to determine config path: %v\n", err)
			return 1
		}
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(stdout, "Config already exists: %s\n", path)
		return 0
	}
	if err := config.WriteDefault(path, *serverURL); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Created config: %s\n", path)
	return 0
}
