//go:build !unix

package execlock

import (
	"errors"
	"io/fs"
	"os"
)

// Without flock(2) the lock falls back to an exclusively created sidecar
// file. Only the holder removes it, but a crashed holder leaves it behind.
func lockFile(f *os.File) (bool, error) {
	g, err := os.OpenFile(f.Name()+".held", os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	return true, g.Close()
}

func unlockFile(f *os.File) error {
	err := os.Remove(f.Name() + ".held")
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
