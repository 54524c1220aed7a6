// Package tls secures the backend connection: client-side trust (a custom
// CA file or a pinned certificate fingerprint) and self-signed certificates
// for the development backend.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CertConfig configures certificate generation.
type CertConfig struct {
	// CertPath and KeyPath default to ~/.idelink/certs/devbackend.{crt,key}.
	CertPath string
	KeyPath  string
	// Hosts become SANs. Default: localhost and 127.0.0.1.
	Hosts []string
	// ValidDuration defaults to 365 days.
	ValidDuration time.Duration
}

// CertInfo describes a loaded or generated certificate.
type CertInfo struct {
	CertPath string
	KeyPath  string
	// Fingerprint is the SHA-256 of the DER bytes as "AA:BB:...".
	Fingerprint string
	NotBefore   time.Time
	NotAfter    time.Time
	// IsGenerated is false when the files already existed.
	IsGenerated bool
}

// DefaultCertPaths returns ~/.idelink/certs/devbackend.crt and .key.
func DefaultCertPaths() (certPath, keyPath string, err error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(homeDir, ".idelink", "certs")
	return filepath.Join(dir, "devbackend.crt"), filepath.Join(dir, "devbackend.key"), nil
}

// EnsureCertificate loads the certificate pair if both files exist and
// generates a new one otherwise.
func EnsureCertificate(cfg CertConfig) (*CertInfo, error) {
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		certPath, keyPath, err := DefaultCertPaths()
		if err != nil {
			return nil, err
		}
		if cfg.CertPath == "" {
			cfg.CertPath = certPath
		}
		if cfg.KeyPath == "" {
			cfg.KeyPath = keyPath
		}
	}

	if fileExists(cfg.CertPath) && fileExists(cfg.KeyPath) {
		info, err := LoadCertificate(cfg.CertPath, cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate: %w", err)
		}
		return info, nil
	}

	info, err := GenerateCertificate(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate certificate: %w", err)
	}
	return info, nil
}

// LoadCertificate loads a certificate pair and computes its fingerprint.
func LoadCertificate(certPath, keyPath string) (*CertInfo, error) {
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate pair: %w", err)
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return &CertInfo{
		CertPath:    certPath,
		KeyPath:     keyPath,
		Fingerprint: ComputeFingerprint(cert),
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
	}, nil
}

// GenerateCertificate writes a new self-signed ECDSA P-256 certificate.
func GenerateCertificate(cfg CertConfig) (*CertInfo, error) {
	hosts := cfg.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	validFor := cfg.ValidDuration
	if validFor == 0 {
		validFor = 365 * 24 * time.Hour
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"idelink"},
			CommonName:   "idelink dev backend",
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.CertPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create certificate directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.KeyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := writePEM(cfg.CertPath, "CERTIFICATE", der, 0644); err != nil {
		return nil, err
	}
	if err := writePEM(cfg.KeyPath, "PRIVATE KEY", keyDER, 0600); err != nil {
		return nil, err
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}
	return &CertInfo{
		CertPath:    cfg.CertPath,
		KeyPath:     cfg.KeyPath,
		Fingerprint: ComputeFingerprint(cert),
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
		IsGenerated: true,
	}, nil
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// ComputeFingerprint returns the certificate's SHA-256 as colon-separated
// uppercase hex.
func ComputeFingerprint(cert *x509.Certificate) string {
	return formatFingerprint(sha256.Sum256(cert.Raw))
}

func formatFingerprint(sum [32]byte) string {
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return strings.Join(parts, ":")
}

// ComputeFingerprintFromPEM computes the fingerprint of a PEM certificate.
func ComputeFingerprintFromPEM(pemData []byte) (string, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return "", fmt.Errorf("failed to decode PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}
	return ComputeFingerprint(cert), nil
}

// ServerConfig loads a certificate pair into a server tls.Config.
func ServerConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
