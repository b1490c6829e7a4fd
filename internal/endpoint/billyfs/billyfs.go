// Package billyfs adapts any go-billy filesystem (memfs, osfs, chroots) to a transfer endpoint.
package billyfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/openmined/syftxfer/internal/transfer"
)

const tempPrefix = ".syftxfer.tmp-"

// ErrChangeUnsupported is returned by Chmod when the filesystem does not implement billy.Change
var ErrChangeUnsupported = errors.New("billy: filesystem does not support changing file attributes")

type Endpoint struct {
	fs billy.Filesystem
}

func New(fsys billy.Filesystem) *Endpoint {
	return &Endpoint{fs: fsys}
}

// NewInMemory returns an endpoint backed by a fresh in-memory filesystem
func NewInMemory() *Endpoint {
	return New(memfs.New())
}

// NewOS returns an endpoint bound to dir on the local disk
func NewOS(dir string) *Endpoint {
	return New(osfs.New(dir, osfs.WithBoundOS()))
}

// Raw returns the underlying filesystem
func (e *Endpoint) Raw() billy.Filesystem {
	return e.fs
}

// paths are always absolute inside the billy filesystem
func abs(p string) string {
	return "/" + transfer.CleanPath(p)
}

func wrap(op, p string, err error) error {
	if os.IsNotExist(err) && !errors.Is(err, fs.ErrNotExist) {
		err = fmt.Errorf("%w: %w", fs.ErrNotExist, err)
	}
	return fmt.Errorf("billy: %s %q: %w", op, p, err)
}

func (e *Endpoint) List(ctx context.Context, dir string) ([]*transfer.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := e.fs.ReadDir(abs(dir))
	if err != nil {
		return nil, wrap("readdir", dir, err)
	}

	nodes := make([]*transfer.Node, 0, len(infos))
	for _, info := range infos {
		p := transfer.JoinPath(dir, info.Name())
		// ReadDir follows links on some implementations
		if linfo, err := e.fs.Lstat(abs(p)); err == nil {
			info = linfo
		}
		nodes = append(nodes, transfer.NodeFromFileInfo(p, info))
	}
	return nodes, nil
}

func (e *Endpoint) Stat(_ context.Context, p string) (*transfer.Node, error) {
	info, err := e.fs.Lstat(abs(p))
	if err != nil {
		return nil, wrap("lstat", p, err)
	}
	return transfer.NodeFromFileInfo(p, info), nil
}

func (e *Endpoint) Open(_ context.Context, p string) (io.ReadCloser, error) {
	f, err := e.fs.Open(abs(p))
	if err != nil {
		return nil, wrap("open", p, err)
	}
	return f, nil
}

// Create writes to a temporary file in the destination directory and renames it on Close.
func (e *Endpoint) Create(_ context.Context, p string, opts transfer.WriteOptions) (io.WriteCloser, error) {
	dst := abs(p)
	dir := path.Dir(dst)
	if err := e.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, wrap("mkdirall", transfer.ParentPath(p), err)
	}

	f, err := e.fs.TempFile(dir, tempPrefix)
	if err != nil {
		return nil, wrap("tempfile", p, err)
	}

	return &fileWriter{endpoint: e, file: f, dst: dst, opts: opts}, nil
}

func (e *Endpoint) Mkdir(_ context.Context, p string) error {
	if err := e.fs.MkdirAll(abs(p), 0o755); err != nil {
		return wrap("mkdirall", p, err)
	}
	return nil
}

func (e *Endpoint) Remove(_ context.Context, p string, recursive bool) error {
	target := abs(p)
	if target == "/" {
		return fmt.Errorf("billy: refusing to remove filesystem root")
	}

	if _, err := e.fs.Lstat(target); err != nil {
		return wrap("lstat", p, err)
	}

	var err error
	if recursive {
		err = util.RemoveAll(e.fs, target)
	} else {
		err = e.fs.Remove(target)
	}
	if err != nil {
		return wrap("remove", p, err)
	}
	return nil
}

func (e *Endpoint) Chmod(_ context.Context, p string, mode fs.FileMode) error {
	change, ok := e.fs.(billy.Change)
	if !ok {
		return ErrChangeUnsupported
	}
	if err := change.Chmod(abs(p), mode.Perm()); err != nil {
		return wrap("chmod", p, err)
	}
	return nil
}

func (e *Endpoint) Readlink(_ context.Context, p string) (string, error) {
	target, err := e.fs.Readlink(abs(p))
	if err != nil {
		return "", wrap("readlink", p, err)
	}
	return target, nil
}

func (e *Endpoint) Symlink(_ context.Context, target, p string) error {
	link := abs(p)
	if err := e.fs.MkdirAll(path.Dir(link), 0o755); err != nil {
		return wrap("mkdirall", transfer.ParentPath(p), err)
	}
	if err := e.fs.Symlink(target, link); err != nil {
		return wrap("symlink", p, err)
	}
	return nil
}

type fileWriter struct {
	endpoint *Endpoint
	file     billy.File
	dst      string
	opts     transfer.WriteOptions
	done     bool
}

func (w *fileWriter) Write(b []byte) (int, error) {
	return w.file.Write(b)
}

func (w *fileWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	fsys := w.endpoint.fs
	tmp := w.file.Name()
	if err := w.file.Close(); err != nil {
		_ = fsys.Remove(tmp)
		return err
	}

	if err := fsys.Rename(tmp, w.dst); err != nil {
		_ = fsys.Remove(tmp)
		return err
	}

	// attributes are best effort, not every filesystem can change them
	if change, ok := fsys.(billy.Change); ok {
		if w.opts.Mode != 0 {
			_ = change.Chmod(w.dst, w.opts.Mode.Perm())
		}
		if !w.opts.ModTime.IsZero() {
			_ = change.Chtimes(w.dst, w.opts.ModTime, w.opts.ModTime)
		}
	}
	return nil
}

func (w *fileWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.file.Close()
	return w.endpoint.fs.Remove(w.file.Name())
}

var (
	_ transfer.Endpoint   = (*Endpoint)(nil)
	_ transfer.ModeSetter = (*Endpoint)(nil)
	_ transfer.Symlinker  = (*Endpoint)(nil)
	_ transfer.Aborter    = (*fileWriter)(nil)
)
