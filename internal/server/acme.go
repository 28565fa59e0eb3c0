package server

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/filen-community/filen-webdav/internal/config"
)

const (
	legoStagingURL    = "https://acme-staging-v02.api.letsencrypt.org/directory"
	legoProductionURL = "https://acme-v02.api.letsencrypt.org/directory"
)

// acmeUser implements the lego account interface, persisted as JSON plus a
// PEM key under the storage directory.
type acmeUser struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.Email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.Registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// ACMEManager obtains and serves Let's Encrypt certificates via the
// HTTP-01 challenge.
type ACMEManager struct {
	cfg           *config.ACMEConfig
	log           *slog.Logger
	challengePort int

	mu         sync.RWMutex
	cert       *tls.Certificate
	legoClient *lego.Client
	user       *acmeUser
}

// NewACMEManager creates a manager answering HTTP-01 challenges on
// challengePort.
func NewACMEManager(cfg *config.ACMEConfig, challengePort int, log *slog.Logger) *ACMEManager {
	return &ACMEManager{cfg: cfg, log: log, challengePort: challengePort}
}

// Init registers the account if needed and loads or obtains a certificate.
func (m *ACMEManager) Init(ctx context.Context) error {
	if m.cfg.Domain == "" {
		return errors.New("acme domain is required")
	}
	if m.cfg.Email == "" {
		return errors.New("acme email is required")
	}
	if err := os.MkdirAll(m.cfg.StorageDir, 0o700); err != nil {
		return fmt.Errorf("create acme storage dir: %w", err)
	}

	user, err := m.loadOrCreateUser()
	if err != nil {
		return fmt.Errorf("load acme account: %w", err)
	}
	m.user = user

	serverURL := m.cfg.Directory
	if serverURL == "" {
		if m.cfg.UseStaging {
			serverURL = legoStagingURL
		} else {
			serverURL = legoProductionURL
		}
	}

	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = serverURL
	legoCfg.Certificate.KeyType = certcrypto.EC256

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return fmt.Errorf("create acme client: %w", err)
	}
	m.legoClient = client

	provider := http01.NewProviderServer("", fmt.Sprintf("%d", m.challengePort))
	if err := client.Challenge.SetHTTP01Provider(provider); err != nil {
		return fmt.Errorf("set http-01 provider: %w", err)
	}

	if user.Registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{
			TermsOfServiceAgreed: true,
		})
		if err != nil {
			return fmt.Errorf("register acme account: %w", err)
		}
		user.Registration = reg
		if err := m.saveUser(user); err != nil {
			m.log.Warn("saving acme account failed", "error", err)
		}
	}

	if cert, err := m.loadCertificate(); err == nil {
		m.cert = cert
		m.log.Info("loaded stored acme certificate", "domain", m.cfg.Domain)
		return nil
	}

	m.log.Info("obtaining acme certificate", "domain", m.cfg.Domain)
	if err := m.obtainCertificate(); err != nil {
		return fmt.Errorf("obtain certificate: %w", err)
	}
	return nil
}

// GetCertificate serves tls.Config.GetCertificate.
func (m *ACMEManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cert == nil {
		return nil, errors.New("no certificate available")
	}
	return m.cert, nil
}

// GetTLSConfig returns a config serving this manager's certificate.
func (m *ACMEManager) GetTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

func (m *ACMEManager) loadOrCreateUser() (*acmeUser, error) {
	userFile := filepath.Join(m.cfg.StorageDir, "account.json")
	keyFile := filepath.Join(m.cfg.StorageDir, "account.key")

	if userData, err := os.ReadFile(userFile); err == nil {
		if keyData, err := os.ReadFile(keyFile); err == nil {
			user := &acmeUser{}
			if json.Unmarshal(userData, user) == nil {
				if key, err := certcrypto.ParsePEMPrivateKey(keyData); err == nil {
					user.key = key
					return user, nil
				}
			}
		}
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate account key: %w", err)
	}
	return &acmeUser{Email: m.cfg.Email, key: privateKey}, nil
}

func (m *ACMEManager) saveUser(user *acmeUser) error {
	userData, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(m.cfg.StorageDir, "account.json"), userData, 0o600); err != nil {
		return err
	}
	keyPEM := certcrypto.PEMEncode(user.key)
	return os.WriteFile(filepath.Join(m.cfg.StorageDir, "account.key"), keyPEM, 0o600)
}

func (m *ACMEManager) loadCertificate() (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(
		filepath.Join(m.cfg.StorageDir, "cert.pem"),
		filepath.Join(m.cfg.StorageDir, "key.pem"))
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func (m *ACMEManager) obtainCertificate() error {
	res, err := m.legoClient.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{m.cfg.Domain},
		Bundle:  true,
	})
	if err != nil {
		return err
	}

	certFile := filepath.Join(m.cfg.StorageDir, "cert.pem")
	keyFile := filepath.Join(m.cfg.StorageDir, "key.pem")
	if err := os.WriteFile(certFile, res.Certificate, 0o644); err != nil {
		return fmt.Errorf("save certificate: %w", err)
	}
	if err := os.WriteFile(keyFile, res.PrivateKey, 0o600); err != nil {
		return fmt.Errorf("save key: %w", err)
	}

	cert, err := tls.X509KeyPair(res.Certificate, res.PrivateKey)
	if err != nil {
		return fmt.Errorf("parse certificate: %w", err)
	}
	m.mu.Lock()
	m.cert = &cert
	m.mu.Unlock()

	m.log.Info("obtained acme certificate", "domain", m.cfg.Domain, "cert_file", certFile)
	return nil
}
