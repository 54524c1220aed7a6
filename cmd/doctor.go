// Package main is the idelink command line.
// This file implements the `idelink doctor` diagnostic command.
//
// The doctor command runs a sequence of checks against the local
// configuration and the configured backend and reports actionable
// remediation guidance for any issues. It supports both human-readable
// (default) and machine-readable (--json) output.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/pseudocoder/idelink/internal/config"
	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/storage"
	idetls "github.com/pseudocoder/idelink/internal/tls"
)

// DoctorResult is the top-level JSON output for `idelink doctor --json`.
type DoctorResult struct {
	// Version is the doctor output schema version. Always "1".
	Version string `json:"version"`

	// Checks is the ordered list of diagnostic checks that were evaluated.
	Checks []DoctorCheck `json:"checks"`

	// Summary contains aggregate pass/warn/fail counts derived from Checks.
	Summary DoctorSummary `json:"summary"`
}

// DoctorCheck is one diagnostic check in the doctor output.
type DoctorCheck struct {
	// ID is a stable, machine-readable identifier for the check (e.g., "backend.reachability").
	ID string `json:"id"`

	// Status is the check result: "pass", "warn", or "fail".
	Status string `json:"status"`

	// Message is a human-readable summary of what was found.
	Message string `json:"message"`

	// NextAction is a concrete remediation step the operator should take.
	NextAction string `json:"next_action"`
}

// DoctorSummary holds aggregate counts of check outcomes.
type DoctorSummary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Stable check IDs used by the doctor command.
const (
	checkIDConfig       = "config.file"
	checkIDEndpoint     = "backend.endpoint"
	checkIDTrust        = "trust.tls"
	checkIDReachability = "backend.reachability"
	checkIDStateDB      = "state.database"
	checkIDControl      = "control.socket"
)

const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

const doctorDialTimeout = 5 * time.Second

// Function-variable seams for testability.
var (
	// doctorDialBackend performs a websocket upgrade against the backend
	// and closes the connection immediately.
	doctorDialBackend = defaultDialBackend

	// doctorQueryStatus asks a running client for its status.
	doctorQueryStatus = func(socketPath string) error {
		_, err := queryStatus(socketPath)
		return err
	}
)

func defaultDialBackend(ctx context.Context, endpoint string, header http.Header, tlsConfig *tls.Config) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: doctorDialTimeout,
		TLSClientConfig:  tlsConfig,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w (HTTP %s)", err, resp.Status)
		}
		return err
	}
	return conn.Close()
}

// runDoctor implements the `idelink doctor` CLI command.
// Returns 0 when no checks fail, 1 when any check fails or an internal error occurs.
func runDoctor(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var cf configFlags
	cf.register(fs)
	jsonMode := fs.Bool("json", false, "Emit machine-readable JSON to stdout")
	fs.Usage = usageFunc(fs, stderr, "doctor [options]", "Diagnose configuration and backend connectivity.")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	checks := make([]DoctorCheck, 0, 6)
	cfg, err := cf.load(fs)
	checks = append(checks, evalConfig(cf.configPath, err))
	if err != nil {
		// Without a config the remaining checks have nothing to inspect.
		cfg = &config.Config{}
		cfg.ApplyDefaults()
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.MdnsTimeout()+2*doctorDialTimeout)
	defer cancel()

	endpoint, fingerprint, endpointErr := resolveEndpoint(ctx, cfg, logger)
	checks = append(checks, evalEndpoint(endpoint, endpointErr))

	tlsConfig, tlsErr := idetls.ClientConfig(idetls.ClientOptions{CAFile: cfg.TLSCAFile, Fingerprint: fingerprint})
	checks = append(checks, evalTrust(endpoint, endpointErr, tlsConfig, tlsErr, cfg.TLSCAFile))

	header := http.Header{}
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	checks = append(checks, evalReachability(ctx, endpoint, endpointErr == nil && tlsErr == nil, header, tlsConfig))
	checks = append(checks, evalStateDB(cfg.StateDB))
	checks = append(checks, evalControlSocket(cfg.ControlSocket))

	summary := DoctorSummary{}
	for _, c := range checks {
		switch c.Status {
		case statusPass:
			summary.Pass++
		case statusWarn:
			summary.Warn++
		case statusFail:
			summary.Fail++
		}
	}

	result := DoctorResult{
		Version: "1",
		Checks:  checks,
		Summary: summary,
	}

	if *jsonMode {
		if err := renderDoctorJSON(stdout, result); err != nil {
			fmt.Fprintf(stderr, "Error: failed to encode JSON: %v\n", err)
			return 1
		}
	} else {
		renderDoctorHuman(stdout, result)
	}

	if summary.Fail > 0 {
		return 1
	}
	return 0
}

// evalConfig evaluates the config.file check.
//   - load error -> fail
//   - no explicit path and no default file -> warn (defaults in use)
//   - otherwise -> pass
func evalConfig(path string, loadErr error) DoctorCheck {
	check := DoctorCheck{ID: checkIDConfig}

	if loadErr != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Config could not be loaded: %v", loadErr)
		check.NextAction = "Fix the TOML syntax or pass a valid `--config` path."
		return check
	}

	if path == "" {
		defaultPath, err := config.DefaultConfigPath()
		if err != nil || !fileExists(defaultPath) {
			check.Status = statusWarn
			check.Message = "No config file found; built-in defaults are in use."
			check.NextAction = "Run `idelink init` to write a starter config."
			return check
		}
		path = defaultPath
	}

	check.Status = statusPass
	check.Message = fmt.Sprintf("Config loaded from %s.", path)
	check.NextAction = "No action required."
	return check
}

// evalEndpoint evaluates the backend.endpoint check.
//   - discovery failed -> fail
//   - URL is not ws:// or wss:// -> fail
//   - otherwise -> pass
func evalEndpoint(endpoint string, resolveErr error) DoctorCheck {
	check := DoctorCheck{ID: checkIDEndpoint}

	if resolveErr != nil {
		check.Status = statusFail
		check.Message = resolveErr.Error()
		check.NextAction = "Start a backend on this network or set `server_url` explicitly."
		return check
	}

	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Backend URL %q is not a ws:// or wss:// URL.", endpoint)
		check.NextAction = "Set `server_url` (or `--url`) to the backend's websocket endpoint."
		return check
	}

	check.Status = statusPass
	check.Message = fmt.Sprintf("Backend endpoint is %s.", endpoint)
	check.NextAction = "No action required."
	return check
}

// evalTrust evaluates the trust.tls check.
//   - TLS options invalid -> fail
//   - ws:// to a non-loopback host -> warn
//   - otherwise -> pass
func evalTrust(endpoint string, resolveErr error, tlsConfig *tls.Config, tlsErr error, caFile string) DoctorCheck {
	check := DoctorCheck{ID: checkIDTrust}

	if tlsErr != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("TLS settings are invalid: %v", tlsErr)
		check.NextAction = "Check `tls_ca_file` points to a PEM bundle and `tls_fingerprint` is a SHA-256 fingerprint."
		return check
	}
	if resolveErr != nil {
		check.Status = statusWarn
		check.Message = "Skipped: no backend endpoint."
		check.NextAction = "Resolve backend.endpoint first."
		return check
	}

	u, err := url.Parse(endpoint)
	if err == nil && u.Scheme == "ws" {
		if isLoopback(u.Hostname()) {
			check.Status = statusPass
			check.Message = "Backend is on loopback; plaintext ws:// is acceptable."
			check.NextAction = "No action required."
			return check
		}
		check.Status = statusWarn
		check.Message = fmt.Sprintf("Traffic to %s is not encrypted.", u.Host)
		check.NextAction = "Use a wss:// endpoint with `tls_ca_file` or `tls_fingerprint`."
		return check
	}

	check.Status = statusPass
	switch {
	case tlsConfig == nil:
		check.Message = "wss:// verified against system roots."
	case tlsConfig.InsecureSkipVerify:
		check.Message = "wss:// pinned by certificate fingerprint."
	default:
		check.Message = "wss:// verified against the configured CA bundle."
		if data, err := os.ReadFile(caFile); err == nil {
			if fp, err := idetls.ComputeFingerprintFromPEM(data); err == nil {
				check.Message = fmt.Sprintf("wss:// verified against the configured CA bundle (first certificate %s).", fp)
			}
		}
	}
	check.NextAction = "No action required."
	return check
}

// evalReachability evaluates the backend.reachability check.
//   - earlier checks failed -> warn (skipped)
//   - upgrade fails -> fail
//   - otherwise -> pass
func evalReachability(ctx context.Context, endpoint string, ready bool, header http.Header, tlsConfig *tls.Config) DoctorCheck {
	check := DoctorCheck{ID: checkIDReachability}

	if !ready {
		check.Status = statusWarn
		check.Message = "Skipped: endpoint or TLS settings are invalid."
		check.NextAction = "Fix the failing checks above and rerun doctor."
		return check
	}

	if err := doctorDialBackend(ctx, endpoint, header, tlsConfig); err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Backend at %s is not reachable: %v", endpoint, err)
		check.NextAction = "Start the assistant backend, or check `server_url`, `auth_token`, and any firewall."
		return check
	}

	check.Status = statusPass
	check.Message = fmt.Sprintf("Backend accepted a websocket connection at %s.", endpoint)
	check.NextAction = "No action required."
	return check
}

// evalStateDB evaluates the state.database check.
//   - missing -> warn (created on first start)
//   - open or machine id fails -> fail
//   - otherwise -> pass
func evalStateDB(path string) DoctorCheck {
	check := DoctorCheck{ID: checkIDStateDB}

	if !fileExists(path) {
		check.Status = statusWarn
		check.Message = fmt.Sprintf("State database %s does not exist yet.", path)
		check.NextAction = "It is created by the first `idelink start`."
		return check
	}

	store, err := storage.NewSQLiteStore(path)
	if err == nil {
		_, err = store.MachineID()
		store.Close()
	}
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("State database error: %v", err)
		check.NextAction = fmt.Sprintf("Move %s aside and restart idelink; settings and secrets will be re-created.", filepath.Base(path))
		return check
	}

	check.Status = statusPass
	check.Message = fmt.Sprintf("State database %s is readable.", path)
	check.NextAction = "No action required."
	return check
}

// evalControlSocket evaluates the control.socket check.
//   - socket missing -> warn (client not running)
//   - socket present but unresponsive -> fail
//   - otherwise -> pass
func evalControlSocket(path string) DoctorCheck {
	check := DoctorCheck{ID: checkIDControl}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		check.Status = statusWarn
		check.Message = fmt.Sprintf("No client is running (no socket at %s).", path)
		check.NextAction = "Run `idelink start` to connect."
		return check
	}

	if err := doctorQueryStatus(path); err != nil {
		check.Status = statusFail
		if apperrors.IsCode(err, apperrors.CodeConnectionClosed) {
			check.Message = fmt.Sprintf("Control socket at %s is not accepting connections.", path)
			check.NextAction = "Remove the stale socket and restart idelink."
		} else {
			check.Message = fmt.Sprintf("Control socket error: %v", err)
			check.NextAction = "Restart idelink."
		}
		return check
	}

	check.Status = statusPass
	check.Message = fmt.Sprintf("Client is running and responsive at %s.", path)
	check.NextAction = "No action required."
	return check
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// renderDoctorJSON writes the doctor result as JSON to stdout.
func renderDoctorJSON(w io.Writer, result DoctorResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// renderDoctorHuman writes the doctor result in human-readable format.
func renderDoctorHuman(w io.Writer, result DoctorResult) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "idelink Doctor")
	fmt.Fprintln(w, "==============")
	fmt.Fprintln(w, "")

	for _, c := range result.Checks {
		icon := statusIcon(c.Status)
		fmt.Fprintf(w, "  %s %s: %s\n", icon, c.ID, c.Message)
		if c.Status != statusPass {
			fmt.Fprintf(w, "    -> %s\n", c.NextAction)
		}
	}

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Summary: %d passed, %d warnings, %d failures\n",
		result.Summary.Pass, result.Summary.Warn, result.Summary.Fail)
	fmt.Fprintln(w, "")
}

func statusIcon(status string) string {
	switch status {
	case statusPass:
		return "[PASS]"
	case statusWarn:
		return "[WARN]"
	case statusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}
