package download

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

func CalculateSHA256(filePath string) (string, error) {
	return CalculateSHA256WithProgress(filePath, nil)
}

// CalculateSHA256WithProgress computes sha256 hash with optional progress callback.
// The callback receives bytes processed and total size.
func CalculateSHA256WithProgress(filePath string, progress func(processed, total int64)) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", err
	}
	totalSize := info.Size()

	hash := sha256.New()
	buf := make([]byte, copyBufferSize)
	processed := int64(0)

	for {
		n, err := file.Read(buf)
		if n > 0 {
			hash.Write(buf[:n])
			processed += int64(n)
			if progress != nil {
				progress(processed, totalSize)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

func VerifySHA256(filePath, expectedHash string) (bool, error) {
	actualHash, err := CalculateSHA256(filePath)
	if err != nil {
		return false, err
	}

	return strings.EqualFold(actualHash, expectedHash), nil
}

// Verify checks filePath against expectedHash and removes the file on a
// mismatch so the next run downloads it again.
func Verify(filePath, expectedHash string) error {
	ok, err := VerifySHA256(filePath, expectedHash)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", filePath, err)
	}
	if ok {
		return nil
	}

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w for %s (remove failed: %v)", ErrHashMismatch, filePath, err)
	}
	return fmt.Errorf("%w for %s", ErrHashMismatch, filePath)
}
