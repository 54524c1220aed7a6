package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGenerateCertificate(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "test.crt")
	keyPath := filepath.Join(dir, "test.key")

	info, err := GenerateCertificate(CertConfig{
		CertPath:      certPath,
		KeyPath:       keyPath,
		Hosts:         []string{"localhost", "127.0.0.1", "example.com"},
		ValidDuration: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("GenerateCertificate failed: %v", err)
	}

	if !info.IsGenerated {
		t.Error("IsGenerated should be true for newly generated cert")
	}
	if parts := strings.Split(info.Fingerprint, ":"); len(parts) != 32 {
		t.Errorf("Fingerprint should have 32 parts, got %d", len(parts))
	}

	keyInfo, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("key file missing: %v", err)
	}
	if keyInfo.Mode().Perm() != 0600 {
		t.Errorf("key permissions = %o, want 0600", keyInfo.Mode().Perm())
	}

	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		t.Fatalf("generated pair does not load: %v", err)
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		t.Fatalf("ParseCertificate failed: %v", err)
	}
	if len(cert.DNSNames) != 2 || len(cert.IPAddresses) != 1 {
		t.Errorf("SANs = %v / %v, want 2 DNS names and 1 IP", cert.DNSNames, cert.IPAddresses)
	}
	if got := cert.NotAfter.Sub(cert.NotBefore); got < 23*time.Hour || got > 25*time.Hour {
		t.Errorf("validity = %v, want ~24h", got)
	}
	if ComputeFingerprint(cert) != info.Fingerprint {
		t.Error("fingerprint of written cert differs from returned fingerprint")
	}
}

func TestEnsureCertificate_GeneratesThenLoads(t *testing.T) {
	dir := t.TempDir()
	cfg := CertConfig{
		CertPath: filepath.Join(dir, "nested", "a.crt"),
		KeyPath:  filepath.Join(dir, "nested", "a.key"),
	}

	first, err := EnsureCertificate(cfg)
	if err != nil {
		t.Fatalf("EnsureCertificate failed: %v", err)
	}
	if !first.IsGenerated {
		t.Error("first call should generate")
	}

	second, err := EnsureCertificate(cfg)
	if err != nil {
		t.Fatalf("EnsureCertificate failed: %v", err)
	}
	if second.IsGenerated {
		t.Error("second call should load")
	}
	if first.Fingerprint != second.Fingerprint {
		t.Errorf("fingerprint changed: %s != %s", first.Fingerprint, second.Fingerprint)
	}

	// A missing key forces regeneration.
	os.Remove(cfg.KeyPath)
	third, err := EnsureCertificate(cfg)
	if err != nil {
		t.Fatalf("EnsureCertificate failed: %v", err)
	}
	if !third.IsGenerated || third.Fingerprint == first.Fingerprint {
		t.Error("missing key should regenerate the certificate")
	}
}

func TestLoadCertificateNotFound(t *testing.T) {
	if _, err := LoadCertificate("/nonexistent/a.crt", "/nonexistent/a.key"); err == nil {
		t.Error("expected error for missing files")
	}
}

func TestComputeFingerprintFromPEM(t *testing.T) {
	dir := t.TempDir()
	info, err := GenerateCertificate(CertConfig{
		CertPath: filepath.Join(dir, "c.crt"),
		KeyPath:  filepath.Join(dir, "c.key"),
	})
	if err != nil {
		t.Fatalf("GenerateCertificate failed: %v", err)
	}
	data, err := os.ReadFile(info.CertPath)
	if err != nil {
		t.Fatal(err)
	}

	fp, err := ComputeFingerprintFromPEM(data)
	if err != nil {
		t.Fatalf("ComputeFingerprintFromPEM failed: %v", err)
	}
	if fp != info.Fingerprint {
		t.Errorf("fingerprint = %s, want %s", fp, info.Fingerprint)
	}

	if _, err := ComputeFingerprintFromPEM([]byte("not pem")); err == nil {
		t.Error("expected error for invalid PEM")
	}
}

func TestServerConfig(t *testing.T) {
	dir := t.TempDir()
	info, err := GenerateCertificate(CertConfig{
		CertPath: filepath.Join(dir, "s.crt"),
		KeyPath:  filepath.Join(dir, "s.key"),
	})
	if err != nil {
		t.Fatalf("GenerateCertificate failed: %v", err)
	}

	cfg, err := ServerConfig(info.CertPath, info.KeyPath)
	if err != nil {
		t.Fatalf("ServerConfig failed: %v", err)
	}
	if len(cfg.Certificates) != 1 || cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("unexpected server config: %d certs, min version %x", len(cfg.Certificates), cfg.MinVersion)
	}

	if _, err := ServerConfig("/nonexistent", "/nonexistent"); err == nil {
		t.Error("expected error for missing files")
	}
}

func TestDefaultCertPaths(t *testing.T) {
	certPath, keyPath, err := DefaultCertPaths()
	if err != nil {
		t.Fatalf("DefaultCertPaths failed: %v", err)
	}
	if !strings.HasSuffix(certPath, filepath.Join(".idelink", "certs", "devbackend.crt")) {
		t.Errorf("certPath = %s", certPath)
	}
	if !strings.HasSuffix(keyPath, filepath.Join(".idelink", "certs", "devbackend.key")) {
		t.Errorf("keyPath = %s", keyPath)
	}
}
