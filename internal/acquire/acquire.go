// Package acquire turns a model reference string into files on disk: it
// parses and resolves the reference, guards the destination with a
// cross-process lock and runs the download.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nchapman/modelfetch/internal/config"
	"github.com/nchapman/modelfetch/internal/download"
	"github.com/nchapman/modelfetch/internal/gguf"
	"github.com/nchapman/modelfetch/internal/hf"
	"github.com/nchapman/modelfetch/internal/lock"
	"github.com/nchapman/modelfetch/internal/logs"
	"github.com/nchapman/modelfetch/internal/modeluri"
)

// Stage names the step of an acquisition that failed.
type Stage string

const (
	StageParse    Stage = "parse"
	StageResolve  Stage = "resolve"
	StageTransfer Stage = "transfer"
)

// ErrUnsupportedReference is returned when the input is not a model reference.
var ErrUnsupportedReference = errors.New("cannot parse model URI")

// Error carries the failing stage and the input it was working on. Its
// message is the message of the underlying error.
type Error struct {
	Stage Stage
	Input string
	Err   error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Resolver resolves parsed references. *hf.Resolver satisfies it.
type Resolver interface {
	ResolveReference(ctx context.Context, ref modeluri.Reference) (*modeluri.Resolved, error)
}

type Config struct {
	Parser   *modeluri.Parser
	Resolver Resolver
	Locks    lock.LockProvider

	// Dir is the default destination directory.
	Dir      string
	Download download.Options

	// ParallelParts bounds concurrent part downloads of split models.
	ParallelParts int

	// VerifyHashes checks single-file downloads against the registry sha256.
	VerifyHashes bool
}

// Options tune a single acquisition.
type Options struct {
	AllowDirectURLs bool

	// Dir overrides the orchestrator's destination directory.
	Dir string

	// Observer, when set, is called once the reference is resolved and
	// returns the observer for the download.
	Observer func(ref *modeluri.Resolved) download.Observer

	// ValidateGGUF reads the header of downloaded .gguf files and fails the
	// acquisition when it is not a GGUF model. Files are left in place.
	ValidateGGUF bool
}

type Result struct {
	// Input is the reference string that was acquired, which differs from
	// the requested one after a fallback.
	Input     string
	Reference *modeluri.Resolved

	// Paths lists every file of the model in order; Entry is the first one.
	Paths []string
	Entry string

	// Downloaded is false when the files were already present.
	Downloaded bool
}

type Orchestrator struct {
	parser   *modeluri.Parser
	resolver Resolver
	locks    lock.LockProvider
	dir      string
	download download.Options
	parallel int
	verify   bool
}

func New(cfg Config) *Orchestrator {
	parser := cfg.Parser
	if parser == nil {
		parser = modeluri.NewParser(modeluri.DefaultEndpoint)
	}
	locks := cfg.Locks
	if locks == nil {
		locks = lock.NewFileLockProvider(0, lock.DefaultStaleAfter)
	}
	return &Orchestrator{
		parser:   parser,
		resolver: cfg.Resolver,
		locks:    locks,
		dir:      cfg.Dir,
		download: cfg.Download,
		parallel: cfg.ParallelParts,
		verify:   cfg.VerifyHashes,
	}
}

// NewFromConfig wires an orchestrator against the configured registry,
// models directory and download settings.
func NewFromConfig(cfg *config.Config) *Orchestrator {
	client := hf.NewClient(cfg.Endpoint(), cfg.Token())
	return New(Config{
		Parser:   modeluri.NewParser(cfg.Endpoint(), modeluri.WithDefaultTag(cfg.DefaultQuant)),
		Resolver: hf.NewResolver(client),
		Locks:    lock.NewFileLockProvider(cfg.Download.LockTimeout(), cfg.Download.StaleLockAfter()),
		Dir:      cfg.ModelsDirectory(),
		Download: download.Options{
			Header:     client.Header(),
			Retries:    cfg.Download.Retries,
			RetryDelay: cfg.Download.RetryDelay(),
		},
		ParallelParts: cfg.Download.ParallelParts,
		VerifyHashes:  true,
	})
}

func (o *Orchestrator) Parser() *modeluri.Parser {
	return o.parser
}

// Parse parses input without touching the network.
func (o *Orchestrator) Parse(input string, allowDirectURLs bool) (modeluri.Reference, error) {
	ref := o.parser.Parse(input, allowDirectURLs)
	if ref == nil {
		return nil, &Error{
			Stage: StageParse,
			Input: input,
			Err:   fmt.Errorf("%w %q", ErrUnsupportedReference, input),
		}
	}
	return ref, nil
}

// Resolve parses and resolves input without downloading anything.
func (o *Orchestrator) Resolve(ctx context.Context, input string, allowDirectURLs bool) (*modeluri.Resolved, error) {
	ref, err := o.Parse(input, allowDirectURLs)
	if err != nil {
		return nil, err
	}
	resolved, err := o.resolver.ResolveReference(ctx, ref)
	if err != nil {
		return nil, &Error{Stage: StageResolve, Input: input, Err: err}
	}
	return resolved, nil
}

// Acquire makes the model named by input available locally and returns the
// paths of its files.
func (o *Orchestrator) Acquire(ctx context.Context, input string, opts Options) (*Result, error) {
	resolved, err := o.Resolve(ctx, input, opts.AllowDirectURLs)
	if err != nil {
		return nil, err
	}
	return o.fetch(ctx, input, resolved, opts)
}

// AcquireResolved downloads an already resolved reference.
func (o *Orchestrator) AcquireResolved(ctx context.Context, ref *modeluri.Resolved, opts Options) (*Result, error) {
	return o.fetch(ctx, ref.URI, ref, opts)
}

// AcquireWithFallback acquires preferred and, when the registry does not
// have it, acquires base instead. Other failures are returned as is.
func (o *Orchestrator) AcquireWithFallback(ctx context.Context, preferred, base string, opts Options) (*Result, error) {
	result, err := o.Acquire(ctx, preferred, opts)
	if err == nil || base == "" || !IsUnavailable(err) {
		return result, err
	}

	logs.Warn("Preferred model unavailable, falling back", "preferred", preferred, "fallback", base, "error", err)
	return o.Acquire(ctx, base, opts)
}

// IsUnavailable reports whether err means the model does not exist on the
// registry, as opposed to a transient or local failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, download.ErrNotFound) || errors.Is(err, hf.ErrNoMatchingVariant)
}

func (o *Orchestrator) fetch(ctx context.Context, input string, resolved *modeluri.Resolved, opts Options) (*Result, error) {
	dir := opts.Dir
	if dir == "" {
		dir = o.dir
	}

	var observer download.Observer = download.ObserverFuncs{}
	if opts.Observer != nil {
		if obs := opts.Observer(resolved); obs != nil {
			observer = obs
		}
	}

	parts := resolved.Parts()
	transfers := make([]*download.Transfer, len(parts))
	for i, part := range parts {
		dest := filepath.Join(dir, part.FullFilename)
		transfers[i] = download.NewTransfer(part.ResolvedURL, dest, o.download).WithSize(part.Size)
	}

	var unit download.Download
	if len(transfers) == 1 {
		unit = transfers[0].WithObserver(observer)
	} else {
		unit = download.NewCombined(transfers, o.parallel).WithObserver(observer)
	}

	result := &Result{
		Input:     input,
		Reference: resolved,
		Paths:     unit.Paths(),
		Entry:     transfers[0].Dest(),
	}

	err := lock.WithExclusiveAccess(ctx, o.locks, result.Entry, func(ctx context.Context) error {
		if allComplete(transfers) {
			logs.Info("Model already present", "path", result.Entry)
			observer.OnProgress(1)
			observer.OnFinished()
			return nil
		}

		logs.Info("Downloading model", "uri", resolved.URI, "parts", len(transfers), "dest", dir)
		if err := unit.Run(ctx); err != nil {
			return err
		}
		result.Downloaded = true

		if o.verify && len(transfers) == 1 && resolved.SHA256 != "" {
			if err := download.Verify(result.Entry, resolved.SHA256); err != nil {
				return err
			}
			logs.Debug("Checksum verified", "path", result.Entry)
		}

		if opts.ValidateGGUF {
			return validateModel(resolved, result.Paths)
		}
		return nil
	})
	if err != nil {
		return nil, &Error{Stage: StageTransfer, Input: input, Err: err}
	}
	return result, nil
}

// validateModel rejects .gguf downloads without a GGUF header, e.g. an HTML
// error page served with status 200. Other files are not inspected.
func validateModel(resolved *modeluri.Resolved, paths []string) error {
	name := resolved.Filename
	var byteSplit bool
	if info, ok := modeluri.ParseSplit(name); ok && info.Binary {
		name, byteSplit = info.Stem, true
	}
	if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
		return nil
	}

	header, err := gguf.Validate(paths, byteSplit)
	if err != nil {
		return err
	}

	logs.Debug("Model validated", "path", paths[0], "architecture", header.Architecture, "splits", header.SplitCount)
	return nil
}

func allComplete(transfers []*download.Transfer) bool {
	for _, t := range transfers {
		if !t.Complete() {
			return false
		}
	}
	return true
}
