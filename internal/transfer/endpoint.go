package transfer

import (
	"context"
	"io"
	"io/fs"
	"time"
)

// Endpoint is the capability set a storage backend must provide.
// Paths are slash separated and relative to the endpoint root ("" is the root).
// Implementations must return errors that wrap fs.ErrNotExist for missing paths.
type Endpoint interface {
	// List returns the direct children of dir
	List(ctx context.Context, dir string) ([]*Node, error)

	// Stat returns the node at p without following symlinks
	Stat(ctx context.Context, p string) (*Node, error)

	// Open returns a read stream for the file at p
	Open(ctx context.Context, p string) (io.ReadCloser, error)

	// Create returns a write sink for the file at p, replacing any existing file.
	// Missing parent directories are created. The file is committed on Close.
	Create(ctx context.Context, p string, opts WriteOptions) (io.WriteCloser, error)

	// Mkdir creates the directory at p. An existing directory is not an error.
	Mkdir(ctx context.Context, p string) error

	// Remove deletes p. Directories require recursive unless empty.
	Remove(ctx context.Context, p string, recursive bool) error
}

// WriteOptions carries the metadata a target should record for a new file.
type WriteOptions struct {
	// Mode is applied when non-zero and the endpoint supports it
	Mode fs.FileMode

	// ModTime is recorded as the file's modification time when non-zero
	ModTime time.Time

	// Size is a hint, -1 when unknown
	Size int64
}

// ModeSetter is implemented by endpoints that can store permission bits.
type ModeSetter interface {
	Chmod(ctx context.Context, p string, mode fs.FileMode) error
}

// Symlinker is implemented by endpoints that can represent symbolic links.
type Symlinker interface {
	Readlink(ctx context.Context, p string) (string, error)
	Symlink(ctx context.Context, target, p string) error
}

// Endpoints is the pair of concrete endpoints of one invocation.
type Endpoints struct {
	Local  Endpoint
	Remote Endpoint
}

// Resolve returns the endpoint pair ordered as (source, target) for the direction.
func (e Endpoints) Resolve(dir Direction) (src, dst Endpoint) {
	if dir == RemoteToLocal {
		return e.Remote, e.Local
	}
	return e.Local, e.Remote
}
