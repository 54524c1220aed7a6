package config

// DefaultServerURL is the backend's IDE websocket endpoint on the local machine.
const DefaultServerURL = "ws://127.0.0.1:65432/ide/ws"

// DefaultLogLevel is used when log_level is unset.
const DefaultLogLevel = "info"

const (
	DefaultStateDBName       = "idelink.db"
	DefaultControlSocketName = "control.sock"
)

// Timing defaults in milliseconds.
const (
	DefaultReadyPollMs      = 1000
	DefaultHighlightDwellMs = 2000
	DefaultCommandSettleMs  = 500
	DefaultMdnsTimeoutMs    = 3000
	DefaultWatchPollMs      = 1000
)

// DefaultCommandRatePerSec limits how fast runCommand requests reach the terminal.
const DefaultCommandRatePerSec = 5.0

// DefaultHistoryLines matches the terminal scrollback kept per terminal.
const DefaultHistoryLines = 5000

// DefaultShell is used when neither shell nor $SHELL is set.
const DefaultShell = "/bin/sh"
