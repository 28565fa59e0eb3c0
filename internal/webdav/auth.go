package webdav

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/filen-community/filen-webdav/internal/appctx"
	"github.com/filen-community/filen-webdav/internal/logutil"
)

const authRealm = "Default realm"

// AuthMode selects the authentication scheme.
type AuthMode string

const (
	AuthBasic  AuthMode = "basic"
	AuthDigest AuthMode = "digest"
)

var (
	ErrProxyDigest = errors.New("digest auth cannot be combined with proxy mode")

	errBadCredentials = errors.New("bad credentials")
)

// StaticUser is the single-tenant credential set.
type StaticUser struct {
	Username string

	// Password is the plaintext credential, compared in constant time.
	Password string

	// PasswordHash optionally replaces Password with a bcrypt hash
	// (basic mode only).
	PasswordHash string
}

// Authenticator binds a username to every request or rejects it with a 401
// challenge. Proxy mode (basic only) lazily opens backend sessions from
// credentials embedded in the Basic password.
type Authenticator struct {
	log      *slog.Logger
	mode     AuthMode
	static   *StaticUser
	registry *Registry
}

// NewAuthenticator validates the mode/user combination at construction.
// A nil static user means proxy mode, which digest refuses.
func NewAuthenticator(mode AuthMode, static *StaticUser, registry *Registry, log *slog.Logger) (*Authenticator, error) {
	if mode == AuthDigest && static == nil {
		return nil, ErrProxyDigest
	}
	return &Authenticator{
		log:      logutil.NoopIfNil(log),
		mode:     mode,
		static:   static,
		registry: registry,
	}, nil
}

type ctxUserKey struct{}

// UserFromContext returns the per-user state bound by the auth middleware.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(ctxUserKey{}).(*User)
	return u, ok
}

// Middleware authenticates the request and binds the username and user
// state to the context. Failures never reveal which credential was wrong.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.authenticate(r)
		if err != nil {
			a.challenge(w)
			return
		}
		ctx := appctx.WithUsername(r.Context(), user.Username)
		ctx = context.WithValue(ctx, ctxUserKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*User, error) {
	header := r.Header.Get("Authorization")
	switch a.mode {
	case AuthDigest:
		return a.authenticateDigest(r, header)
	default:
		return a.authenticateBasic(r, header)
	}
}

func (a *Authenticator) challenge(w http.ResponseWriter) {
	switch a.mode {
	case AuthDigest:
		nonce := randomHex(16)
		opaque := randomHex(16)
		w.Header().Set("WWW-Authenticate",
			fmt.Sprintf("Digest realm=%q, qop=\"auth\", nonce=%q, opaque=%q", authRealm, nonce, opaque))
	default:
		w.Header().Set("WWW-Authenticate",
			fmt.Sprintf("Basic realm=%q, charset=\"UTF-8\"", authRealm))
	}
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusUnauthorized)
}

// authenticateBasic handles both single-tenant and proxy operation.
func (a *Authenticator) authenticateBasic(r *http.Request, header string) (*User, error) {
	username, password, ok := parseBasicAuth(header)
	if !ok {
		return nil, errBadCredentials
	}

	if a.static != nil {
		if !a.static.matches(username, password) {
			return nil, errBadCredentials
		}
		u, ok := a.registry.Get(a.static.Username)
		if !ok {
			return nil, errBadCredentials
		}
		return u, nil
	}

	// Proxy mode: the username is a backend email and the password
	// carries the backend credential.
	if !strings.Contains(username, "@") || !strings.HasPrefix(password, "password=") {
		return nil, errBadCredentials
	}
	u, err := a.registry.Authenticate(r.Context(), username, password)
	if err != nil {
		a.log.Debug("proxy login failed", "username", username)
		return nil, errBadCredentials
	}
	return u, nil
}

func (su *StaticUser) matches(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(su.Username), []byte(username)) == 1
	var passOK bool
	if su.PasswordHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(su.PasswordHash), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(su.Password), []byte(password)) == 1
	}
	return userOK && passOK
}

// parseBasicAuth decodes an Authorization: Basic header.
func parseBasicAuth(header string) (username, password string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	username, password, ok = strings.Cut(string(decoded), ":")
	return username, password, ok
}

// parseProxyPassword splits the embedded credential format
// "password=<secret>[&twoFactorAuthentication=<otp>]".
func parseProxyPassword(raw string) (password, twoFactorCode string) {
	for _, part := range strings.Split(raw, "&") {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch key {
		case "password":
			password = val
		case "twoFactorAuthentication":
			twoFactorCode = val
		}
	}
	return password, twoFactorCode
}

// authenticateDigest verifies an RFC 2617 Digest response (qop=auth, MD5).
func (a *Authenticator) authenticateDigest(r *http.Request, header string) (*User, error) {
	params, ok := parseDigestParams(header)
	if !ok {
		return nil, errBadCredentials
	}
	username := params["username"]
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.static.Username)) != 1 {
		return nil, errBadCredentials
	}

	ha1 := md5Hex(username + ":" + params["realm"] + ":" + a.static.Password)
	ha2 := md5Hex(r.Method + ":" + params["uri"])
	expected := md5Hex(strings.Join([]string{
		ha1, params["nonce"], params["nc"], params["cnonce"], params["qop"], ha2,
	}, ":"))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(params["response"])) != 1 {
		return nil, errBadCredentials
	}

	u, ok := a.registry.Get(a.static.Username)
	if !ok {
		return nil, errBadCredentials
	}
	return u, nil
}

// parseDigestParams extracts the key="value" (and unquoted) pairs from an
// Authorization: Digest header.
func parseDigestParams(header string) (map[string]string, bool) {
	const prefix = "Digest "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return nil, false
	}
	params := make(map[string]string)
	for _, part := range splitDigestParts(header[len(prefix):]) {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		params[strings.ToLower(key)] = strings.Trim(val, `"`)
	}
	if params["username"] == "" || params["response"] == "" {
		return nil, false
	}
	return params, true
}

// splitDigestParts splits on commas outside quoted strings.
func splitDigestParts(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	for _, c := range s {
		switch {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteRune(c)
		case c == ',' && !inQuotes:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(c)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return strings.Repeat("0", n*2)
	}
	return hex.EncodeToString(b)
}

// RateLimitUsernameKey extracts the username from the auth header without
// verifying it, falling back to the client IP. Used when the admin keys
// rate limiting by username.
func RateLimitUsernameKey(fallback func(r *http.Request) string) func(r *http.Request) string {
	return func(r *http.Request) string {
		header := r.Header.Get("Authorization")
		if username, _, ok := parseBasicAuth(header); ok && username != "" {
			return username
		}
		if params, ok := parseDigestParams(header); ok {
			if u := params["username"]; u != "" {
				return u
			}
		}
		return fallback(r)
	}
}
