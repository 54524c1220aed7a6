// Package mdns finds assistant backends on the local network and lets the
// development backend announce itself.
//
// Backends advertise the _idelink._tcp service. TXT records carry the
// protocol version, a display name, the WebSocket path, whether TLS is on,
// and optionally the certificate fingerprint to pin.
package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type for idelink backends.
const ServiceType = "_idelink._tcp"

// ProtocolVersion is advertised in the version TXT record.
const ProtocolVersion = "1"

// ErrNoBackend is returned when discovery finds nothing before the timeout.
var ErrNoBackend = errors.New("no backend found on the local network")

// Config describes what an Advertiser announces.
type Config struct {
	Port int
	// Path is the WebSocket endpoint path. Default "/ide/ws".
	Path string
	TLS  bool
	// Fingerprint is the TLS certificate fingerprint clients may pin.
	Fingerprint string
	// Name defaults to the hostname.
	Name string
}

// Advertiser registers the service while running.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates an advertiser. Call Start to announce.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg}
}

// Start registers the service. Calling Start while running is a no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := a.config.Name
	if name == "" {
		if hostname, err := os.Hostname(); err == nil {
			name = hostname
		} else {
			name = "idelink-backend"
		}
	}

	server, err := zeroconf.Register(name, ServiceType, "local.", a.config.Port, txtRecords(a.config, name), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	a.server = server
	return nil
}

func txtRecords(cfg Config, name string) []string {
	path := cfg.Path
	if path == "" {
		path = "/ide/ws"
	}
	records := []string{
		"version=" + ProtocolVersion,
		"name=" + name,
		"path=" + path,
		"tls=" + strconv.FormatBool(cfg.TLS),
	}
	if cfg.Fingerprint != "" {
		// 95 characters, within the 255-byte TXT string limit.
		records = append(records, "fp="+cfg.Fingerprint)
	}
	return records
}

// Stop unregisters the service. Safe to call repeatedly.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning reports whether the service is registered.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Backend is a discovered backend.
type Backend struct {
	Name        string
	Host        string
	Port        int
	Path        string
	TLS         bool
	Fingerprint string
	Version     string
}

// URL returns the WebSocket URL for the backend.
func (b Backend) URL() string {
	scheme := "ws"
	if b.TLS {
		scheme = "wss"
	}
	path := b.Path
	if path == "" {
		path = "/ide/ws"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(b.Host, strconv.Itoa(b.Port)), path)
}

// parseEntry turns a resolved service entry into a Backend. IPv4 wins.
func parseEntry(entry *zeroconf.ServiceEntry) Backend {
	b := Backend{Name: entry.Instance, Port: entry.Port}
	if len(entry.AddrIPv4) > 0 {
		b.Host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		b.Host = entry.AddrIPv6[0].String()
	} else {
		b.Host = strings.TrimSuffix(entry.HostName, ".")
	}

	for _, txt := range entry.Text {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "fp":
			b.Fingerprint = value
		case "version":
			b.Version = value
		case "name":
			b.Name = value
		case "path":
			b.Path = value
		case "tls":
			b.TLS, _ = strconv.ParseBool(value)
		}
	}
	return b
}

// Discover browses until ctx ends and returns every backend seen.
func Discover(ctx context.Context) ([]Backend, error) {
	var (
		backends []Backend
		mu       sync.Mutex
	)
	err := browse(ctx, func(b Backend) bool {
		mu.Lock()
		defer mu.Unlock()
		backends = append(backends, b)
		return true
	})
	return backends, err
}

// DiscoverFirst returns the first backend announced within timeout.
func DiscoverFirst(ctx context.Context, timeout time.Duration) (Backend, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found := make(chan Backend, 1)
	err := browse(ctx, func(b Backend) bool {
		select {
		case found <- b:
		default:
		}
		cancel()
		return false
	})
	if err != nil {
		return Backend{}, err
	}
	select {
	case b := <-found:
		return b, nil
	default:
		return Backend{}, ErrNoBackend
	}
}

// browse feeds entries to fn until ctx ends or fn returns false.
func browse(ctx context.Context, fn func(Backend) bool) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	go func() {
		defer close(done)
		wanted := true
		// zeroconf closes entries when ctx ends; keep draining until then.
		for entry := range entries {
			if wanted {
				wanted = fn(parseEntry(entry))
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return fmt.Errorf("mdns browse: %w", err)
	}
	<-ctx.Done()
	<-done
	return nil
}
