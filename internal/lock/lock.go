// Package lock serializes access to destination files across processes.
// Each destination path has a sibling ".lock" file held with an OS file
// lock and a ".lock.owner" file naming the holder and its last heartbeat,
// so a holder that stopped making progress can be detected and reclaimed.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/nchapman/modelfetch/internal/fileutil"
	"github.com/nchapman/modelfetch/internal/logs"
)

const (
	LockSuffix  = ".lock"
	OwnerSuffix = ".lock.owner"

	DefaultStaleAfter   = 30 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
)

// Handle is a held lock.
type Handle interface {
	Key() string
	Release() error
}

// LockProvider hands out exclusive locks keyed by destination path.
// Different keys never block each other.
type LockProvider interface {
	// Acquire blocks until the lock for key is held or ctx is done.
	Acquire(ctx context.Context, key string) (Handle, error)

	// IsStale reports whether h no longer guarantees exclusive access,
	// because it was released, reclaimed by another process or its
	// heartbeat lapsed.
	IsStale(h Handle) bool
}

// Owner is the content of an owner file.
type Owner struct {
	PID       int       `yaml:"pid"`
	Host      string    `yaml:"host"`
	Token     string    `yaml:"token"`
	Heartbeat time.Time `yaml:"heartbeat"`
}

// Stale reports whether the owner's process is gone (same host only) or
// its heartbeat is older than staleAfter.
func (o *Owner) Stale(staleAfter time.Duration, now time.Time) bool {
	if o.Host == hostname() && !processAlive(o.PID) {
		return true
	}
	return now.Sub(o.Heartbeat) > staleAfter
}

// ReadOwner reads the owner file for key. The raw bytes are returned too so
// callers can tell whether the file changed between reads.
func ReadOwner(key string) (*Owner, []byte, error) {
	data, err := os.ReadFile(key + OwnerSuffix)
	if err != nil {
		return nil, nil, err
	}

	var owner Owner
	if err := yaml.Unmarshal(data, &owner); err != nil {
		return nil, data, fmt.Errorf("failed to parse lock owner: %w", err)
	}
	return &owner, data, nil
}

// FileLockProvider implements LockProvider with OS file locks.
type FileLockProvider struct {
	// Timeout bounds how long Acquire waits; zero waits until ctx is done.
	Timeout time.Duration

	// StaleAfter is how old a heartbeat may get before the holder is
	// considered stuck. Holders refresh it at a third of this interval.
	StaleAfter time.Duration

	PollInterval time.Duration
}

func NewFileLockProvider(timeout, staleAfter time.Duration) *FileLockProvider {
	return &FileLockProvider{
		Timeout:      timeout,
		StaleAfter:   staleAfter,
		PollInterval: DefaultPollInterval,
	}
}

func (p *FileLockProvider) staleAfter() time.Duration {
	if p.StaleAfter <= 0 {
		return DefaultStaleAfter
	}
	return p.StaleAfter
}

func (p *FileLockProvider) pollInterval() time.Duration {
	if p.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return p.PollInterval
}

func (p *FileLockProvider) Acquire(ctx context.Context, key string) (Handle, error) {
	lockPath := key + LockSuffix
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	fileLock := flock.New(lockPath)
	var staleSeen []byte
	waiting := false

	for {
		locked, err := fileLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to lock %s: %w", lockPath, err)
		}
		if locked {
			return p.hold(key, fileLock)
		}

		if !waiting {
			logs.Debug("Waiting for lock", "path", lockPath)
			waiting = true
		}

		// A stuck holder must look stale on two consecutive polls with the
		// same owner file before it is reclaimed, so a fresh holder that has
		// not written its owner file yet is left alone.
		if owner, raw, err := ReadOwner(key); err == nil && owner.Stale(p.staleAfter(), time.Now()) {
			if staleSeen != nil && string(staleSeen) == string(raw) {
				logs.Warn("Reclaiming stale lock", "path", lockPath, "pid", owner.PID, "heartbeat", owner.Heartbeat)
				os.Remove(key + OwnerSuffix)
				os.Remove(lockPath)
				fileLock.Close()
				fileLock = flock.New(lockPath)
				staleSeen = nil
				continue
			}
			staleSeen = raw
		} else {
			staleSeen = nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock on %s: %w", key, ctx.Err())
		case <-time.After(p.pollInterval()):
		}
	}
}

func (p *FileLockProvider) hold(key string, fileLock *flock.Flock) (Handle, error) {
	h := &fileHandle{
		key:  key,
		lock: fileLock,
		owner: Owner{
			PID:   os.Getpid(),
			Host:  hostname(),
			Token: newToken(),
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if err := h.beat(); err != nil {
		fileLock.Unlock()
		return nil, fmt.Errorf("failed to write lock owner: %w", err)
	}

	go h.heartbeat(p.staleAfter() / 3)
	return h, nil
}

func (p *FileLockProvider) IsStale(h Handle) bool {
	fh, ok := h.(*fileHandle)
	if !ok {
		return true
	}
	if fh.released() {
		return true
	}

	owner, _, err := ReadOwner(fh.key)
	if err != nil {
		return true
	}
	if owner.Token != fh.owner.Token {
		return true
	}
	return owner.Stale(p.staleAfter(), time.Now())
}

type fileHandle struct {
	key  string
	lock *flock.Flock

	mu    sync.Mutex
	owner Owner

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	freed   bool
	freeErr error
}

func (h *fileHandle) Key() string {
	return h.key
}

func (h *fileHandle) beat() error {
	h.mu.Lock()
	h.owner.Heartbeat = time.Now().UTC()
	data, err := yaml.Marshal(h.owner)
	h.mu.Unlock()
	if err != nil {
		return err
	}
	return fileutil.AtomicWriteFile(h.key+OwnerSuffix, data, 0644)
}

func (h *fileHandle) heartbeat(interval time.Duration) {
	defer close(h.done)
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if err := h.beat(); err != nil {
				logs.Warn("Failed to refresh lock heartbeat", "path", h.key+LockSuffix, "error", err)
			}
		}
	}
}

func (h *fileHandle) released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.freed
}

// Release stops the heartbeat, removes the owner file if it is still ours
// and unlocks. The lock file itself stays so waiters keep a stable inode.
func (h *fileHandle) Release() error {
	h.once.Do(func() {
		close(h.stop)
		<-h.done

		var result *multierror.Error
		if owner, _, err := ReadOwner(h.key); err == nil && owner.Token == h.owner.Token {
			if err := os.Remove(h.key + OwnerSuffix); err != nil && !os.IsNotExist(err) {
				result = multierror.Append(result, err)
			}
		}
		if err := h.lock.Unlock(); err != nil {
			result = multierror.Append(result, err)
		}

		h.mu.Lock()
		h.freed = true
		h.freeErr = result.ErrorOrNil()
		h.mu.Unlock()
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.freeErr
}

// WithExclusiveAccess runs fn while holding the lock for key. The lock is
// released on every exit path; a release failure is reported alongside
// fn's error. Losing the lock while fn ran is logged.
func WithExclusiveAccess(ctx context.Context, provider LockProvider, key string, fn func(context.Context) error) (err error) {
	h, err := provider.Acquire(ctx, key)
	if err != nil {
		return err
	}

	defer func() {
		if err == nil && provider.IsStale(h) {
			logs.Warn("Lock was lost while held", "path", key)
		}

		relErr := h.Release()
		if relErr == nil {
			return
		}
		relErr = fmt.Errorf("failed to release lock on %s: %w", key, relErr)
		if err == nil {
			err = relErr
			return
		}
		err = multierror.Append(err, relErr)
	}()

	return fn(ctx)
}

var (
	hostOnce sync.Once
	hostName string
)

func hostname() string {
	hostOnce.Do(func() {
		hostName, _ = os.Hostname()
	})
	return hostName
}

func newToken() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
