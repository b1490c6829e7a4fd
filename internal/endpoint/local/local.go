// Package local implements a transfer endpoint over a directory on the local disk.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/openmined/syftxfer/internal/transfer"
	"github.com/openmined/syftxfer/internal/utils"
)

const (
	tempPattern = ".syftxfer.tmp-*"
	defaultMode = 0o644
	dirMode     = 0o755
)

// Endpoint serves paths relative to Root
type Endpoint struct {
	root string
}

func New(root string) (*Endpoint, error) {
	abs, err := utils.ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolve local root %s: %w", root, err)
	}
	return &Endpoint{root: abs}, nil
}

func (e *Endpoint) Root() string {
	return e.root
}

func (e *Endpoint) abs(p string) string {
	return filepath.Join(e.root, filepath.FromSlash(transfer.CleanPath(p)))
}

func (e *Endpoint) List(ctx context.Context, dir string) ([]*transfer.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(e.abs(dir))
	if err != nil {
		return nil, err
	}

	nodes := make([]*transfer.Node, 0, len(entries))
	for _, entry := range entries {
		// DirEntry.Info reports the link itself for symlinks
		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue // removed while listing
			}
			return nil, err
		}
		nodes = append(nodes, transfer.NodeFromFileInfo(transfer.JoinPath(dir, entry.Name()), info))
	}
	return nodes, nil
}

func (e *Endpoint) Stat(_ context.Context, p string) (*transfer.Node, error) {
	info, err := os.Lstat(e.abs(p))
	if err != nil {
		return nil, err
	}
	return transfer.NodeFromFileInfo(p, info), nil
}

func (e *Endpoint) Open(_ context.Context, p string) (io.ReadCloser, error) {
	return os.Open(e.abs(p))
}

// Create writes to a temporary file next to the destination and renames it into place on Close.
func (e *Endpoint) Create(_ context.Context, p string, opts transfer.WriteOptions) (io.WriteCloser, error) {
	dst := e.abs(p)
	if err := utils.EnsureParent(dst); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(filepath.Dir(dst), tempPattern)
	if err != nil {
		return nil, err
	}

	return &fileWriter{file: f, dst: dst, opts: opts}, nil
}

func (e *Endpoint) Mkdir(_ context.Context, p string) error {
	return os.MkdirAll(e.abs(p), dirMode)
}

func (e *Endpoint) Remove(_ context.Context, p string, recursive bool) error {
	target := e.abs(p)
	if target == e.root {
		return fmt.Errorf("refusing to remove endpoint root %s", e.root)
	}
	if recursive {
		if _, err := os.Lstat(target); err != nil {
			return err
		}
		return os.RemoveAll(target)
	}
	return os.Remove(target)
}

func (e *Endpoint) Chmod(_ context.Context, p string, mode fs.FileMode) error {
	return os.Chmod(e.abs(p), mode.Perm())
}

func (e *Endpoint) Readlink(_ context.Context, p string) (string, error) {
	return os.Readlink(e.abs(p))
}

func (e *Endpoint) Symlink(_ context.Context, target, p string) error {
	dst := e.abs(p)
	if err := utils.EnsureParent(dst); err != nil {
		return err
	}
	return os.Symlink(target, dst)
}

type fileWriter struct {
	file *os.File
	dst  string
	opts transfer.WriteOptions
	done bool
}

func (w *fileWriter) Write(b []byte) (int, error) {
	return w.file.Write(b)
}

func (w *fileWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	tmp := w.file.Name()
	if err := w.file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	mode := fs.FileMode(defaultMode)
	if w.opts.Mode != 0 {
		mode = w.opts.Mode.Perm()
	}
	if err := os.Chmod(tmp, mode); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, w.dst); err != nil {
		os.Remove(tmp)
		return err
	}

	if !w.opts.ModTime.IsZero() {
		if err := os.Chtimes(w.dst, w.opts.ModTime, w.opts.ModTime); err != nil {
			return fmt.Errorf("set modification time: %w", err)
		}
	}
	return nil
}

// Abort discards the temporary file
func (w *fileWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.file.Close()
	return os.Remove(w.file.Name())
}

var (
	_ transfer.Endpoint   = (*Endpoint)(nil)
	_ transfer.ModeSetter = (*Endpoint)(nil)
	_ transfer.Symlinker  = (*Endpoint)(nil)
	_ transfer.Aborter    = (*fileWriter)(nil)
)
