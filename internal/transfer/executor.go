package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
)

// Aborter is implemented by writers returned from Endpoint.Create that can
// discard a partially written file instead of committing it.
type Aborter interface {
	Abort() error
}

var errModeUnsupported = errors.New("target endpoint does not support permission modes")

// executor performs single operations against the endpoints selected by the operation direction.
type executor struct {
	endpoints Endpoints
}

// execute runs op and returns the bytes copied, a non-fatal warning and the operation error.
func (x *executor) execute(ctx context.Context, op *Operation) (int64, error, error) {
	src, dst := x.endpoints.Resolve(op.Direction)

	var n int64
	switch op.Kind {
	case OpSkip:
		return 0, nil, nil

	case OpCreateDirectory:
		if op.Replace {
			if err := removeExisting(ctx, dst, op.TargetPath); err != nil {
				return 0, nil, err
			}
		}
		if err := dst.Mkdir(ctx, op.TargetPath); err != nil {
			return 0, nil, newIOError("mkdir", op.TargetPath, err)
		}

	case OpCopyFile:
		if op.Replace {
			if err := removeExisting(ctx, dst, op.TargetPath); err != nil {
				return 0, nil, err
			}
		}
		copied, err := copyFile(ctx, src, dst, op)
		if err != nil {
			return 0, nil, err
		}
		n = copied

	case OpDelete:
		recursive := op.Target == nil || op.Target.IsDir()
		err := dst.Remove(ctx, op.TargetPath, recursive)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, nil, newIOError("remove", op.TargetPath, err)
		}
		return 0, nil, nil

	default:
		return 0, nil, fmt.Errorf("unknown operation kind %q", op.Kind)
	}

	if op.PreserveMode {
		return n, applyMode(ctx, dst, op), nil
	}
	return n, nil, nil
}

func removeExisting(ctx context.Context, ep Endpoint, p string) error {
	err := ep.Remove(ctx, p, true)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return newIOError("remove", p, err)
	}
	return nil
}

func copyFile(ctx context.Context, src, dst Endpoint, op *Operation) (int64, error) {
	if op.Source != nil && op.Source.IsSymlink() {
		if copied, err := copySymlink(ctx, src, dst, op); copied || err != nil {
			return 0, err
		}
		// one side can't represent links, fall through and copy the content
	}

	r, err := src.Open(ctx, op.SourcePath)
	if err != nil {
		return 0, newIOError("open", op.SourcePath, err)
	}
	defer r.Close()

	opts := WriteOptions{Size: -1}
	if op.Source != nil {
		opts.ModTime = op.Source.ModTime
		if !op.Source.IsSymlink() {
			opts.Size = op.Source.Size
		}
		if op.PreserveMode {
			opts.Mode = op.Source.Mode
		}
	}

	w, err := dst.Create(ctx, op.TargetPath, opts)
	if err != nil {
		return 0, newIOError("create", op.TargetPath, err)
	}

	n, err := io.Copy(w, r)
	if err != nil {
		if a, ok := w.(Aborter); ok {
			_ = a.Abort()
		} else {
			_ = w.Close()
		}
		return n, newIOError("copy", op.TargetPath, err)
	}

	if err := w.Close(); err != nil {
		return n, newIOError("write", op.TargetPath, err)
	}
	return n, nil
}

// copySymlink transfers the link itself when both endpoints support links.
func copySymlink(ctx context.Context, src, dst Endpoint, op *Operation) (bool, error) {
	srcLinks, ok := src.(Symlinker)
	if !ok {
		return false, nil
	}
	dstLinks, ok := dst.(Symlinker)
	if !ok {
		return false, nil
	}

	target, err := srcLinks.Readlink(ctx, op.SourcePath)
	if err != nil {
		return false, newIOError("readlink", op.SourcePath, err)
	}

	if err := dst.Remove(ctx, op.TargetPath, false); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, newIOError("remove", op.TargetPath, err)
	}
	if err := dstLinks.Symlink(ctx, target, op.TargetPath); err != nil {
		return false, newIOError("symlink", op.TargetPath, err)
	}
	return true, nil
}

// applyMode copies the source permission bits onto the target. Failures are warnings.
func applyMode(ctx context.Context, dst Endpoint, op *Operation) error {
	if op.Source == nil || op.Source.IsSymlink() || op.Source.Mode == 0 {
		return nil
	}
	setter, ok := dst.(ModeSetter)
	if !ok {
		return newIOError("chmod", op.TargetPath, errModeUnsupported)
	}
	if err := setter.Chmod(ctx, op.TargetPath, op.Source.Mode); err != nil {
		return newIOError("chmod", op.TargetPath, err)
	}
	return nil
}
