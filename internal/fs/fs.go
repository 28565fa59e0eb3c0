// Package fs defines the contract consumed from the client-side-encrypting
// storage SDK. The gateway never sees plaintext at rest on the backend side;
// everything behind this interface is encrypted before it leaves the process.
package fs

import (
	"context"
	"errors"
	"io"
)

// UploadChunkSize is the backend upload chunk size in bytes. File chunk
// counts reported to WebDAV clients are derived from it.
const UploadChunkSize = 1024 * 1024

var (
	// ErrNotFound is returned by Stat and ReadDir for paths that do not
	// exist on the backend. Resolvers swallow it and report absence.
	ErrNotFound = errors.New("fs: path not found")

	// ErrInvalidCredentials is returned by Login for bad credentials.
	ErrInvalidCredentials = errors.New("fs: invalid credentials")
)

// Kind discriminates files from directories.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Stats is the backend metadata for a single path.
type Stats struct {
	UUID         string
	Type         Kind
	Name         string
	Size         int64
	MTimeMS      int64
	BirthtimeMS  int64
	LastModified int64
	Creation     int64
	Mime         string

	// Backend-only fields, opaque to WebDAV clients.
	Key     string
	Bucket  string
	Region  string
	Version int
	Chunks  int64
	Hash    string
}

// Space is aggregated storage capacity and usage in bytes.
type Space struct {
	Used int64
	Max  int64
}

// FileMetadata is the mutable metadata set accepted by EditFileMetadata.
type FileMetadata struct {
	Name         string
	Key          string
	LastModified int64
	Creation     int64
	Hash         string
	Size         int64
	Mime         string
}

// Backend is one authenticated session against the encrypted store.
type Backend interface {
	// Stat returns metadata for path, or ErrNotFound.
	Stat(ctx context.Context, path string) (Stats, error)

	// ReadDir returns the child names of a directory.
	ReadDir(ctx context.Context, path string) ([]string, error)

	// Mkdir creates a directory. Creating an existing directory is not an
	// error; the backend de-duplicates on name+parent.
	Mkdir(ctx context.Context, path string) error

	// Rename moves a file or directory tree.
	Rename(ctx context.Context, from, to string) error

	// Copy duplicates a file or directory tree.
	Copy(ctx context.Context, from, to string) error

	// Unlink removes a path. permanent=false moves it to trash.
	Unlink(ctx context.Context, path string, permanent bool) error

	// StatFS returns capacity and usage for the account.
	StatFS(ctx context.Context) (Space, error)

	// Cloud exposes the streaming and metadata-edit surface.
	Cloud() Cloud

	// RemoveItem and AddItem rewrite the SDK's in-memory metadata index so
	// a Stat immediately after an upload sees the new item.
	RemoveItem(path string)
	AddItem(path string, item Stats)

	// SubscribePasswordChanged registers fn to run when the account
	// password changes server-side. The returned func cancels the
	// subscription.
	SubscribePasswordChanged(fn func()) (cancel func())
}

// Cloud is the streaming upload/download and metadata-edit API.
type Cloud interface {
	// UploadStream encrypts and uploads src as a new file named name under
	// the directory identified by parentUUID. It consumes src to EOF.
	UploadStream(ctx context.Context, src io.Reader, parentUUID, name string) (Stats, error)

	// DownloadRange returns a decrypted byte stream for the half-open
	// range [start, end) of the file described by src. end == -1 means
	// through end of file.
	DownloadRange(ctx context.Context, src Stats, start, end int64) (io.ReadCloser, error)

	// EditFileMetadata replaces the mutable metadata of a file.
	EditFileMetadata(ctx context.Context, uuid string, meta FileMetadata) error
}

// Connector opens backend sessions from raw credentials. Proxy mode uses it
// for lazy per-email logins.
type Connector interface {
	Login(ctx context.Context, email, password, twoFactorCode string) (Backend, error)
}
