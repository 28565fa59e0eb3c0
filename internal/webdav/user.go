package webdav

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/filen-community/filen-webdav/internal/cache"
	"github.com/filen-community/filen-webdav/internal/fs"
	"github.com/filen-community/filen-webdav/internal/logutil"
)

// User is the per-username state: the backend session plus the virtual and
// disk tier maps. Tier maps are mutated only under mu.
type User struct {
	Username string
	Backend  fs.Backend

	mu      sync.Mutex
	virtual map[string]*Resource
	disk    map[string]*Resource
	pathMu  map[string]*sync.Mutex

	// authedPassword is the raw credential presented at login, kept for
	// the constant-time fast path in proxy mode. Never logged.
	authedPassword string

	unsubscribe func()
}

func newUser(username string, backend fs.Backend) *User {
	return &User{
		Username: username,
		Backend:  backend,
		virtual:  make(map[string]*Resource),
		disk:     make(map[string]*Resource),
		pathMu:   make(map[string]*sync.Mutex),
	}
}

// Virtual returns the virtual-tier resource at path, if any.
func (u *User) Virtual(path string) (*Resource, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	r, ok := u.virtual[path]
	return r, ok
}

// Disk returns the disk-tier resource at path, if any.
func (u *User) Disk(path string) (*Resource, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	r, ok := u.disk[path]
	return r, ok
}

// SetVirtual inserts a virtual resource and purges any disk entry at the
// same path, keeping the one-tier-per-path invariant.
func (u *User) SetVirtual(r *Resource) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.virtual[r.Path] = r
	delete(u.disk, r.Path)
}

// SetDisk inserts a disk resource and purges any virtual entry at the
// same path.
func (u *User) SetDisk(r *Resource) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.disk[r.Path] = r
	delete(u.virtual, r.Path)
}

// Purge drops path from both tier maps.
func (u *User) Purge(path string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.virtual, path)
	delete(u.disk, path)
}

// RemoveVirtual drops a virtual entry, reporting whether it existed.
func (u *User) RemoveVirtual(path string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.virtual[path]
	delete(u.virtual, path)
	return ok
}

// RemoveDisk drops a disk entry, reporting whether it existed.
func (u *User) RemoveDisk(path string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.disk[path]
	delete(u.disk, path)
	return ok
}

// ChildrenIn returns the virtual and disk resources whose parent is dir.
func (u *User) ChildrenIn(dir string) []*Resource {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []*Resource
	for p, r := range u.virtual {
		if parentPath(p) == dir {
			out = append(out, r)
		}
	}
	for p, r := range u.disk {
		if parentPath(p) == dir {
			out = append(out, r)
		}
	}
	return out
}

// PathMutex returns the mutex for path, creating it on first use. The table
// is never garbage-collected; entries are one mutex per touched path.
func (u *User) PathMutex(path string) *sync.Mutex {
	u.mu.Lock()
	defer u.mu.Unlock()
	m, ok := u.pathMu[path]
	if !ok {
		m = &sync.Mutex{}
		u.pathMu[path] = m
	}
	return m
}

// Registry owns every User. In single-tenant mode it holds exactly one
// entry for the process lifetime; in proxy mode entries are created lazily
// on first login and evicted on backend passwordChanged events.
type Registry struct {
	log       *slog.Logger
	connector fs.Connector
	cache     cache.Cache

	mu      sync.Mutex
	users   map[string]*User
	loginMu map[string]*sync.Mutex
}

// NewRegistry creates an empty registry. connector may be nil in
// single-tenant mode.
func NewRegistry(connector fs.Connector, c cache.Cache, log *slog.Logger) *Registry {
	return &Registry{
		log:       logutil.NoopIfNil(log),
		connector: connector,
		cache:     c,
		users:     make(map[string]*User),
		loginMu:   make(map[string]*sync.Mutex),
	}
}

// AddStatic installs the single-tenant user at startup.
func (reg *Registry) AddStatic(username string, backend fs.Backend) *User {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	u := newUser(username, backend)
	reg.users[username] = u
	return u
}

// Get returns the user state for username, if present.
func (reg *Registry) Get(username string) (*User, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	u, ok := reg.users[username]
	return u, ok
}

// sessionMutex returns the per-username mutex serializing first-login.
func (reg *Registry) sessionMutex(username string) *sync.Mutex {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.loginMu[username]
	if !ok {
		m = &sync.Mutex{}
		reg.loginMu[username] = m
	}
	return m
}

// Authenticate resolves proxy-mode credentials to a user state. The raw
// password string is compared in constant time against the cached
// credential; a mismatch or a missing entry triggers a fresh backend login.
func (reg *Registry) Authenticate(ctx context.Context, username, rawPassword string) (*User, error) {
	mu := reg.sessionMutex(username)
	mu.Lock()
	defer mu.Unlock()

	if u, ok := reg.Get(username); ok {
		if subtle.ConstantTimeCompare([]byte(u.authedPassword), []byte(rawPassword)) == 1 {
			return u, nil
		}
		// Credential changed under us; rebuild the session below.
		reg.Evict(username)
	}

	password, twoFactorCode := parseProxyPassword(rawPassword)
	backend, err := reg.connector.Login(ctx, username, password, twoFactorCode)
	if err != nil {
		reg.Evict(username)
		return nil, err
	}

	u := newUser(username, backend)
	u.authedPassword = rawPassword
	u.unsubscribe = backend.SubscribePasswordChanged(func() {
		reg.log.Info("backend password changed, evicting session", "username", username)
		reg.Evict(username)
	})

	reg.mu.Lock()
	reg.users[username] = u
	reg.mu.Unlock()

	reg.log.Info("proxy session established", "username", username)
	return u, nil
}

// Evict removes a user's state and cancels its event subscription.
func (reg *Registry) Evict(username string) {
	reg.mu.Lock()
	u, ok := reg.users[username]
	delete(reg.users, username)
	reg.mu.Unlock()
	if ok && u.unsubscribe != nil {
		u.unsubscribe()
	}
}

// StatFS returns the user's capacity snapshot, cached for one minute.
func (reg *Registry) StatFS(ctx context.Context, u *User) (fs.Space, error) {
	key := "statfs:" + u.Username
	if reg.cache != nil {
		if b, err := reg.cache.Get(ctx, key); err == nil {
			var sp fs.Space
			if json.Unmarshal(b, &sp) == nil {
				return sp, nil
			}
		}
	}
	sp, err := u.Backend.StatFS(ctx)
	if err != nil {
		return fs.Space{}, err
	}
	if reg.cache != nil {
		if b, err := json.Marshal(sp); err == nil {
			_ = reg.cache.Set(ctx, key, b, cache.TTLStatFS)
		}
	}
	return sp, nil
}
