// Package logs provides the process logger and rotating log files for modelfetch.
package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/nchapman/modelfetch/internal/config"
)

const (
	// MaxRotations is the number of rotated files to keep (.log.1, .log.2)
	MaxRotations = 2
	// MaxFileSize is the maximum size of a log file before rotation (10MB)
	MaxFileSize = 10 * 1024 * 1024
)

// Pre-compiled regexes for model name sanitization
var (
	ggufSuffixRe      = regexp.MustCompile(`(?i)-gguf(:|$)`)
	unsafeCharsRe     = regexp.MustCompile(`[^a-z0-9._-]`)
	multipleHyphensRe = regexp.MustCompile(`-+`)
)

// SanitizeModelName converts a model URI to a safe filename.
// Example: "hf:bartowski/Llama-3.2-3B-Instruct-GGUF:Q4_K_M" -> "llama-3.2-3b-instruct-q4_k_m"
func SanitizeModelName(fullName string) string {
	name := fullName
	if idx := strings.IndexAny(name, "?#"); idx >= 0 {
		name = name[:idx]
	}

	// Extract just the model part after the last slash
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}

	name = ggufSuffixRe.ReplaceAllString(name, "$1")
	name = strings.ReplaceAll(name, ":", "-")
	name = strings.ToLower(name)
	name = unsafeCharsRe.ReplaceAllString(name, "-")
	name = multipleHyphensRe.ReplaceAllString(name, "-")

	return strings.Trim(name, "-")
}

// PullLogPath returns the session log path for pulling the given model.
func PullLogPath(modelName string) string {
	sanitized := SanitizeModelName(modelName)
	if sanitized == "" {
		sanitized = "pull"
	}
	return filepath.Join(config.LogsPath(), "pull-"+sanitized+".log")
}

// rotateLogs shifts .log -> .log.1 -> .log.N, dropping the oldest.
func rotateLogs(basePath string) error {
	os.Remove(fmt.Sprintf("%s.%d", basePath, MaxRotations))

	for i := MaxRotations; i >= 1; i-- {
		oldPath := basePath
		if i > 1 {
			oldPath = fmt.Sprintf("%s.%d", basePath, i-1)
		}
		if _, err := os.Stat(oldPath); err != nil {
			continue
		}
		if err := os.Rename(oldPath, fmt.Sprintf("%s.%d", basePath, i)); err != nil {
			return err
		}
	}

	return nil
}

// RotatingWriter is an io.Writer over a log file that rotates once maxSize
// bytes have been written to the current file.
type RotatingWriter struct {
	mu           sync.Mutex
	basePath     string
	maxSize      int64
	file         *os.File
	bytesWritten int64
}

// NewRotatingWriter rotates any existing log at basePath and opens a fresh one.
func NewRotatingWriter(basePath string) (*RotatingWriter, error) {
	return NewRotatingWriterSize(basePath, MaxFileSize)
}

// NewRotatingWriterSize is NewRotatingWriter with a custom size limit.
func NewRotatingWriterSize(basePath string, maxSize int64) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(basePath), 0755); err != nil {
		return nil, err
	}

	w := &RotatingWriter{basePath: basePath, maxSize: maxSize}
	if err := w.reopen(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.bytesWritten > 0 && w.bytesWritten+int64(len(p)) > w.maxSize {
		if err := w.reopen(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.bytesWritten += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// reopen closes the current file, rotates, and starts a new one.
// Caller must hold w.mu (or own w exclusively).
func (w *RotatingWriter) reopen() error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}

	if err := rotateLogs(w.basePath); err != nil {
		return err
	}

	file, err := os.OpenFile(w.basePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	w.file = file
	w.bytesWritten = 0
	return nil
}

// Path returns the base path of the log file.
func (w *RotatingWriter) Path() string {
	return w.basePath
}
