package memfs

import (
	"context"
	"sync"

	"github.com/filen-community/filen-webdav/internal/fs"
)

// Account is one credential set known to the Connector.
type Account struct {
	Password      string
	TwoFactorCode string
	FS            *FS
}

// Connector hands out in-memory backend sessions by email, for proxy-mode
// tests and dev deployments.
type Connector struct {
	mu       sync.Mutex
	accounts map[string]Account

	// LoginCount tracks successful logins per email, so tests can assert
	// that the authed-session cache short-circuits repeat logins.
	LoginCount map[string]int
}

// NewConnector creates a connector with no accounts registered.
func NewConnector() *Connector {
	return &Connector{
		accounts:   make(map[string]Account),
		LoginCount: make(map[string]int),
	}
}

// Register adds or replaces an account. A nil FS gets a fresh 1 GiB store.
func (c *Connector) Register(email string, acct Account) *FS {
	c.mu.Lock()
	defer c.mu.Unlock()
	if acct.FS == nil {
		acct.FS = New(1 << 30)
	}
	c.accounts[email] = acct
	return acct.FS
}

func (c *Connector) Login(ctx context.Context, email, password, twoFactorCode string) (fs.Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	acct, ok := c.accounts[email]
	if !ok || acct.Password != password {
		return nil, fs.ErrInvalidCredentials
	}
	if acct.TwoFactorCode != "" && acct.TwoFactorCode != twoFactorCode {
		return nil, fs.ErrInvalidCredentials
	}
	c.LoginCount[email]++
	return acct.FS, nil
}

var _ fs.Connector = (*Connector)(nil)
