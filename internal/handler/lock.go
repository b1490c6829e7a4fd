package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/openmined/syftxfer/internal/utils"
)

var ErrLocked = errors.New("local tree is locked by another run")

// treeLock keeps two runs from touching the same local root at once.
// The lock file lives under the data dir so it never shows up in a transfer.
type treeLock struct {
	root  string
	flock *flock.Flock
}

func newTreeLock(locksDir, localRoot string) *treeLock {
	sum := sha256.Sum256([]byte(localRoot))
	name := hex.EncodeToString(sum[:8]) + ".lock"
	return &treeLock{
		root:  localRoot,
		flock: flock.New(filepath.Join(locksDir, name)),
	}
}

func (l *treeLock) Lock() error {
	if err := utils.EnsureParent(l.flock.Path()); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.root, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLocked, l.root)
	}
	return nil
}

func (l *treeLock) Unlock() error {
	// only the holder removes the lock file
	if !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.root, err)
	}
	return os.Remove(l.flock.Path())
}
