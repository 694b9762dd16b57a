package lock

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"
)

// ErrHeld is returned by Remove when the lock is in use.
var ErrHeld = errors.New("lock is held")

// Remove deletes the lock and owner files for key if nobody holds the lock.
// It is meant for explicit cleanup while no downloads are running.
func Remove(key string) error {
	fileLock := flock.New(key + LockSuffix)
	locked, err := fileLock.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		return ErrHeld
	}
	if err := fileLock.Unlock(); err != nil {
		return err
	}

	var result *multierror.Error
	for _, path := range []string{key + OwnerSuffix, key + LockSuffix} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// CleanUnheld removes every unheld lock below dirs and returns how many
// were removed. Missing directories are skipped.
func CleanUnheld(dirs ...string) (int, error) {
	var keys []string
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == dir {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch {
			case strings.HasSuffix(path, LockSuffix):
				keys = append(keys, strings.TrimSuffix(path, LockSuffix))
			case strings.HasSuffix(path, OwnerSuffix):
				// owner file left without its lock file
				key := strings.TrimSuffix(path, OwnerSuffix)
				if _, err := os.Stat(key + LockSuffix); os.IsNotExist(err) {
					keys = append(keys, key)
				}
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	count := 0
	var result *multierror.Error
	for _, key := range keys {
		switch err := Remove(key); {
		case err == nil:
			count++
		case errors.Is(err, ErrHeld):
		default:
			result = multierror.Append(result, err)
		}
	}
	return count, result.ErrorOrNil()
}
