// Package download moves remote files to disk: a resumable single-file
// Transfer and a Combined unit that drives several transfers as one.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/nchapman/modelfetch/internal/fileutil"
	"github.com/nchapman/modelfetch/internal/logs"
)

// PartialSuffix marks a file that is still being downloaded.
const PartialSuffix = ".partial"

const (
	defaultRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
	copyBufferSize    = 32 * 1024

	// progress stays below this until the file is in place
	maxRunningProgress = 0.999
)

// Download is anything the orchestrator can run: a Transfer or a Combined.
type Download interface {
	Run(ctx context.Context) error
	Progress() float64
	Paths() []string
}

type Options struct {
	// Client defaults to a client without an overall timeout.
	Client *http.Client

	// Header is sent with every request, e.g. User-Agent and Authorization.
	Header http.Header

	// Retries is the number of extra attempts after the first one. Negative
	// disables retries.
	Retries    int
	RetryDelay time.Duration
	Clock      clock.Clock
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		}
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.Clock == nil {
		o.Clock = clock.WallClock
	}
	return o
}

// Transfer downloads one URL to one destination path. Data is written to
// dest+".partial" and renamed into place once complete; an interrupted
// transfer resumes from the partial file with an HTTP Range request.
type Transfer struct {
	url      string
	dest     string
	opts     Options
	sizeHint int64

	mu       sync.Mutex
	observer Observer
	progress float64
}

func NewTransfer(url, dest string, opts Options) *Transfer {
	return &Transfer{
		url:      url,
		dest:     dest,
		opts:     opts.withDefaults(),
		observer: nopObserver{},
	}
}

// WithObserver sets the observer notified during Run.
func (t *Transfer) WithObserver(o Observer) *Transfer {
	if o == nil {
		o = nopObserver{}
	}
	t.mu.Lock()
	t.observer = o
	t.mu.Unlock()
	return t
}

// WithSize records the expected size, saving a HEAD request when weighing
// parts and bounding progress when the server omits Content-Length.
func (t *Transfer) WithSize(size int64) *Transfer {
	t.sizeHint = size
	return t
}

func (t *Transfer) URL() string {
	return t.url
}

func (t *Transfer) Dest() string {
	return t.dest
}

func (t *Transfer) Paths() []string {
	return []string{t.dest}
}

func (t *Transfer) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Complete reports whether the destination file already exists.
func (t *Transfer) Complete() bool {
	return fileutil.Exists(t.dest)
}

// Size returns the size of the remote file: the local file size when the
// download is complete, the size hint if set, otherwise a HEAD request.
func (t *Transfer) Size(ctx context.Context) (int64, error) {
	if info, err := os.Stat(t.dest); err == nil && info.Mode().IsRegular() {
		return info.Size(), nil
	}
	if t.sizeHint > 0 {
		return t.sizeHint, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, t.url, nil)
	if err != nil {
		return 0, err
	}
	t.setHeaders(req)

	resp, err := t.opts.Client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &TransferError{URL: t.url, Path: t.dest, StatusCode: resp.StatusCode}
	}
	if resp.ContentLength <= 0 {
		return 0, fmt.Errorf("size of %s unknown", t.url)
	}
	return resp.ContentLength, nil
}

// Run downloads the file, retrying transient failures with exponential
// backoff. It returns immediately when the destination already exists.
// On failure or cancellation the partial file is left for the next run.
func (t *Transfer) Run(ctx context.Context) error {
	if t.Complete() {
		logs.Debug("Already downloaded", "path", t.dest)
		t.report(1)
		t.currentObserver().OnFinished()
		return nil
	}

	err := t.run(ctx)
	if err != nil {
		t.currentObserver().OnFailed(err)
		return err
	}

	t.report(1)
	t.currentObserver().OnFinished()
	return nil
}

func (t *Transfer) run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(t.dest), 0755); err != nil {
		return &TransferError{URL: t.url, Path: t.dest, Err: err}
	}

	var lastErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			lastErr = t.attempt(ctx)
			return lastErr
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil || isFatal(err)
		},
		NotifyFunc: func(err error, attempt int) {
			logs.Warn("Download attempt failed", "url", t.url, "attempt", attempt, "error", err)
		},
		Attempts:    t.opts.Retries + 1,
		Delay:       t.opts.RetryDelay,
		MaxDelay:    maxRetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       t.opts.Clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return &TransferError{URL: t.url, Path: t.dest, Err: ctxErr}
	}
	if lastErr != nil {
		err = lastErr
	}

	var terr *TransferError
	if errors.As(err, &terr) {
		return terr
	}
	return &TransferError{URL: t.url, Path: t.dest, Err: err}
}

func isFatal(err error) bool {
	var terr *TransferError
	if errors.As(err, &terr) && terr.StatusCode != 0 {
		return !retryable(terr.StatusCode)
	}

	// local disk problems do not get better by retrying
	var pathErr *fs.PathError
	return errors.As(err, &pathErr)
}

func (t *Transfer) attempt(ctx context.Context) error {
	partialPath := t.dest + PartialSuffix

	var offset int64
	if info, err := os.Stat(partialPath); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return err
	}
	t.setHeaders(req)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		logs.Debug("Resuming download", "url", t.url, "offset", offset)
	}

	resp, err := t.opts.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	total := int64(-1)
	switch resp.StatusCode {
	case http.StatusOK:
		offset = 0
	case http.StatusPartialContent:
		start, size, ok := parseContentRange(resp.Header.Get("Content-Range"))
		switch {
		case ok && start == offset:
		case ok && start == 0:
			// the server sent the whole file as one range
			offset = 0
		default:
			if err := os.Truncate(partialPath, 0); err != nil && !os.IsNotExist(err) {
				return err
			}
			return fmt.Errorf("server sent range %q for offset %d", resp.Header.Get("Content-Range"), offset)
		}
		total = size
	case http.StatusRequestedRangeNotSatisfiable:
		if offset > 0 && rangeCovers(resp.Header.Get("Content-Range"), offset) {
			return t.finish(partialPath)
		}
		// the partial file is not a prefix we can extend, start over
		if err := os.Truncate(partialPath, 0); err != nil && !os.IsNotExist(err) {
			return err
		}
		return &TransferError{URL: t.url, Path: t.dest, StatusCode: resp.StatusCode}
	default:
		return &TransferError{URL: t.url, Path: t.dest, StatusCode: resp.StatusCode}
	}

	if total < 0 && resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}
	if t.sizeHint > 0 {
		if total >= 0 && total != t.sizeHint {
			if err := os.Truncate(partialPath, 0); err != nil && !os.IsNotExist(err) {
				return err
			}
			return fmt.Errorf("server reports %d bytes for %s, expected %d", total, t.url, t.sizeHint)
		}
		total = t.sizeHint
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset == 0 {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}

	file, err := os.OpenFile(partialPath, flags, 0644)
	if err != nil {
		return err
	}

	written, copyErr := t.copy(file, resp.Body, offset, total)
	if err := file.Close(); err != nil && copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		return copyErr
	}

	if total >= 0 && written != total {
		return fmt.Errorf("received %d of %d bytes: %w", written, total, io.ErrUnexpectedEOF)
	}

	return t.finish(partialPath)
}

func (t *Transfer) copy(dst io.Writer, src io.Reader, offset, total int64) (int64, error) {
	buf := make([]byte, copyBufferSize)
	written := offset

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			if total > 0 {
				t.report(min(float64(written)/float64(total), maxRunningProgress))
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

func (t *Transfer) finish(partialPath string) error {
	if err := os.Rename(partialPath, t.dest); err != nil {
		return err
	}
	logs.Debug("Download complete", "path", t.dest)
	return nil
}

func (t *Transfer) setHeaders(req *http.Request) {
	for key, values := range t.opts.Header {
		req.Header[key] = append([]string(nil), values...)
	}
}

// report raises progress, never lowers it.
func (t *Transfer) report(fraction float64) {
	t.mu.Lock()
	if fraction <= t.progress {
		t.mu.Unlock()
		return
	}
	t.progress = fraction
	observer := t.observer
	t.mu.Unlock()

	observer.OnProgress(fraction)
}

func (t *Transfer) currentObserver() Observer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.observer
}

// rangeCovers reports whether a "bytes */N" Content-Range says the file is
// exactly offset bytes long.
func rangeCovers(contentRange string, offset int64) bool {
	_, size, ok := parseContentRange(contentRange)
	return ok && size == offset
}

// parseContentRange reads "bytes first-last/size" and "bytes */size".
// Unknown values are -1.
func parseContentRange(contentRange string) (start, size int64, ok bool) {
	spec, found := strings.CutPrefix(strings.TrimSpace(contentRange), "bytes ")
	if !found {
		return -1, -1, false
	}
	rng, total, found := strings.Cut(spec, "/")
	if !found {
		return -1, -1, false
	}

	start, size = -1, -1
	if rng != "*" {
		first, _, found := strings.Cut(rng, "-")
		if !found {
			return -1, -1, false
		}
		n, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
		if err != nil {
			return -1, -1, false
		}
		start = n
	}
	if total = strings.TrimSpace(total); total != "*" {
		n, err := strconv.ParseInt(total, 10, 64)
		if err != nil {
			return -1, -1, false
		}
		size = n
	}
	return start, size, true
}
