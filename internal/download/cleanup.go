package download

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FindPartialFiles lists every .partial file below dirs. Missing
// directories are skipped.
func FindPartialFiles(dirs ...string) ([]string, error) {
	var paths []string

	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == dir {
					return filepath.SkipDir
				}
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, PartialSuffix) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return paths, err
		}
	}

	return paths, nil
}

// CleanupPartialFiles removes every .partial file below dirs and returns how
// many were removed. Missing directories are skipped.
func CleanupPartialFiles(dirs ...string) (int, error) {
	paths, err := FindPartialFiles(dirs...)

	count := 0
	for _, path := range paths {
		if os.Remove(path) == nil {
			count++
		}
	}
	return count, err
}
