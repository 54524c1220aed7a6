package tls

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// ClientOptions selects how the backend's certificate is trusted.
type ClientOptions struct {
	// CAFile adds a PEM bundle to the system roots.
	CAFile string
	// Fingerprint pins the leaf certificate's SHA-256. When set, chain
	// and hostname verification are replaced by the pin check.
	Fingerprint string
}

// ClientConfig builds the tls.Config for dialing the backend. It returns nil
// when no option is set, meaning the defaults apply.
func ClientConfig(opts ClientOptions) (*tls.Config, error) {
	if opts.CAFile == "" && opts.Fingerprint == "" {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if opts.CAFile != "" {
		pemData, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CAFile)
		}
		cfg.RootCAs = pool
	}

	if opts.Fingerprint != "" {
		want, err := NormalizeFingerprint(opts.Fingerprint)
		if err != nil {
			return nil, err
		}
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("backend presented no certificate")
			}
			got := formatFingerprint(sha256.Sum256(rawCerts[0]))
			if got != want {
				return fmt.Errorf("certificate fingerprint mismatch: got %s, want %s", got, want)
			}
			return nil
		}
	}
	return cfg, nil
}

// NormalizeFingerprint accepts hex with or without colons, in any case,
// and returns the canonical "AA:BB:..." form.
func NormalizeFingerprint(fp string) (string, error) {
	hexStr := strings.ToUpper(strings.NewReplacer(":", "", " ", "").Replace(strings.TrimSpace(fp)))
	if len(hexStr) != 64 {
		return "", fmt.Errorf("fingerprint must be 32 bytes of hex, got %d characters", len(hexStr))
	}
	parts := make([]string, 32)
	for i := range parts {
		pair := hexStr[2*i : 2*i+2]
		if strings.Trim(pair, "0123456789ABCDEF") != "" {
			return "", fmt.Errorf("fingerprint contains non-hex characters")
		}
		parts[i] = pair
	}
	return strings.Join(parts, ":"), nil
}
