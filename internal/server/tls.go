package server

import (
	"crypto/rand"
	"crypto/rsa"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/filen-community/filen-webdav/internal/config"
)

var (
	ErrInvalidTLSMode = errors.New("invalid TLS mode")
	ErrMissingCert    = errors.New("missing certificate or key file")
)

// selfSignedCN is the common name for generated development certificates.
const selfSignedCN = "local.webdav.filen.io"

// selfSignedMaxAge is the age after which a stored self-signed certificate
// is regenerated, a few days short of its 365-day validity.
const selfSignedMaxAge = 360 * 24 * time.Hour

// TLSManager resolves a tls.Config from the configured mode. "off" yields
// nil.
type TLSManager struct {
	cfg      *config.TLSConfig
	storeDir string
	log      *slog.Logger
}

// NewTLSManager creates a manager persisting generated material under
// storeDir.
func NewTLSManager(cfg *config.TLSConfig, storeDir string, log *slog.Logger) *TLSManager {
	return &TLSManager{cfg: cfg, storeDir: storeDir, log: log}
}

// GetTLSConfig returns the tls.Config for mode, or nil for "off".
func (m *TLSManager) GetTLSConfig(mode, hostname string) (*cryptotls.Config, error) {
	switch mode {
	case "off":
		return nil, nil
	case "static":
		return m.loadStaticCert()
	case "selfsigned":
		return m.getOrCreateSelfSigned(hostname)
	case "acme":
		// Populated by the ACME manager after Init.
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidTLSMode, mode)
	}
}

func (m *TLSManager) loadStaticCert() (*cryptotls.Config, error) {
	if m.cfg.CertFile == "" || m.cfg.KeyFile == "" {
		return nil, ErrMissingCert
	}
	cert, err := cryptotls.LoadX509KeyPair(m.cfg.CertFile, m.cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	m.log.Info("loaded static TLS certificate",
		"cert_file", m.cfg.CertFile,
		"key_file", m.cfg.KeyFile)
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{cert},
		MinVersion:   cryptotls.VersionTLS12,
	}, nil
}

// getOrCreateSelfSigned reuses a stored certificate while it is younger
// than selfSignedMaxAge, otherwise generates and stores a fresh one.
func (m *TLSManager) getOrCreateSelfSigned(hostname string) (*cryptotls.Config, error) {
	certFile := filepath.Join(m.storeDir, "cert.pem")
	keyFile := filepath.Join(m.storeDir, "key.pem")

	if cert, err := cryptotls.LoadX509KeyPair(certFile, keyFile); err == nil {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil &&
			time.Since(leaf.NotBefore) < selfSignedMaxAge {
			m.log.Info("loaded self-signed certificate", "cert_file", certFile)
			return &cryptotls.Config{
				Certificates: []cryptotls.Certificate{cert},
				MinVersion:   cryptotls.VersionTLS12,
			}, nil
		}
		m.log.Info("stored self-signed certificate expired, regenerating")
	}

	cert, err := m.generateSelfSigned(hostname, certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{cert},
		MinVersion:   cryptotls.VersionTLS12,
	}, nil
}

func (m *TLSManager) generateSelfSigned(hostname, certFile, keyFile string) (cryptotls.Certificate, error) {
	m.log.Info("generating self-signed certificate", "hostname", hostname)

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Filen WebDAV"},
			CommonName:   selfSignedCN,
		},
		NotBefore:             now,
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		SignatureAlgorithm:    x509.SHA256WithRSA,
		BasicConstraintsValid: true,
		DNSNames:              []string{selfSignedCN, "localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}
	if hostname != "" && hostname != selfSignedCN {
		if ip := net.ParseIP(hostname); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, hostname)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(certFile), 0o700); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("create cert directory: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("write certificate: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("write key: %w", err)
	}

	m.log.Info("generated self-signed certificate",
		"cert_file", certFile,
		"expires", template.NotAfter)
	return cryptotls.X509KeyPair(certPEM, keyPEM)
}
