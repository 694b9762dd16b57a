package hf

import (
	"context"
	"errors"
	"fmt"

	"github.com/nchapman/modelfetch/internal/logs"
	"github.com/nchapman/modelfetch/internal/modeluri"
	"github.com/nchapman/modelfetch/internal/quant"
)

var (
	ErrManifestFetchFailed = errors.New("manifest fetch failed")
	ErrNoMatchingVariant   = errors.New("no matching variant")
)

// ResolutionError reports why an unresolved reference could not be turned
// into a file. Its message is stable; transport details are only logged.
type ResolutionError struct {
	// Kind is ErrManifestFetchFailed or ErrNoMatchingVariant.
	Kind error
	URI  string
	Repo string
	Tag  string
	Err  error
}

func (e *ResolutionError) Error() string {
	if e.Kind == ErrManifestFetchFailed {
		return fmt.Sprintf("Failed to fetch manifest for resolving URI %q", e.URI)
	}
	return fmt.Sprintf("Cannot get quantization %q for model %q or it does not exist", e.Tag, e.Repo)
}

func (e *ResolutionError) Is(target error) bool {
	return target == e.Kind
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// ManifestSource fetches the manifest of a repository.
type ManifestSource interface {
	GetManifest(ctx context.Context, owner, model string) (*Manifest, error)
}

// Resolver turns unresolved references into concrete files using one
// manifest lookup per call.
type Resolver struct {
	source   ManifestSource
	endpoint string
}

// NewResolver creates a resolver backed by client.
func NewResolver(client *Client) *Resolver {
	return &Resolver{source: client, endpoint: client.Endpoint()}
}

// NewResolverWithSource creates a resolver reading manifests from source and
// building download URLs against endpoint.
func NewResolverWithSource(source ManifestSource, endpoint string) *Resolver {
	return &Resolver{source: source, endpoint: endpoint}
}

// ResolveReference resolves ref, passing resolved references through untouched.
func (r *Resolver) ResolveReference(ctx context.Context, ref modeluri.Reference) (*modeluri.Resolved, error) {
	switch ref := ref.(type) {
	case *modeluri.Resolved:
		return ref, nil
	case *modeluri.Unresolved:
		return r.Resolve(ctx, ref)
	default:
		return nil, fmt.Errorf("unsupported reference %T", ref)
	}
}

// Resolve walks the candidate filenames of u in order and returns the first
// one the manifest can serve. Without a tag, the best variant on offer is
// used when no candidate matches.
func (r *Resolver) Resolve(ctx context.Context, u *modeluri.Unresolved) (*modeluri.Resolved, error) {
	manifest, err := r.source.GetManifest(ctx, u.Owner, u.Model)
	if err != nil {
		logs.Debug("Manifest fetch failed", "repo", u.Repo(), "error", err)
		return nil, &ResolutionError{
			Kind: ErrManifestFetchFailed,
			URI:  u.URI,
			Repo: u.RepoURI(),
			Tag:  u.Tag,
			Err:  err,
		}
	}

	for _, name := range u.PossibleFullFilenames {
		candidate, ok := modeluri.ParseCandidate(u, name)
		if !ok {
			continue
		}

		v := manifest.Variant(candidate.Tag)
		if v == nil {
			continue
		}
		if candidate.Split && !v.IsSplit() || !candidate.Split && !v.HasSingle() {
			continue
		}

		filename := name[len(u.FilePrefix):]
		if candidate.Split {
			filename = modeluri.FillSplitCount(filename, v.PartCount)
			return r.resolved(u, filename, v.Parts[0]), nil
		}
		return r.resolved(u, filename, *v.Single), nil
	}

	if u.Tag == "" {
		if v := manifest.Best(); v != nil {
			logs.Debug("Using best available variant", "repo", u.Repo(), "tag", v.Tag)
			return r.resolvedVariant(u, v), nil
		}
	}

	logs.Debug("No matching variant", "repo", u.Repo(), "tag", u.Tag, "available", manifest.Tags())
	return nil, &ResolutionError{
		Kind: ErrNoMatchingVariant,
		URI:  u.URI,
		Repo: u.RepoURI(),
		Tag:  u.Tag,
	}
}

func (r *Resolver) resolvedVariant(u *modeluri.Unresolved, v *Variant) *modeluri.Resolved {
	stem := u.BaseFilename
	if v.Tag != "" {
		stem += "." + quant.Canonical(v.Tag)
	}

	if v.HasSingle() {
		return r.resolved(u, stem+".gguf", *v.Single)
	}
	return r.resolved(u, modeluri.SplitFilename(stem, 1, v.PartCount), v.Parts[0])
}

func (r *Resolver) resolved(u *modeluri.Unresolved, filename string, remote ManifestFile) *modeluri.Resolved {
	return &modeluri.Resolved{
		URI:          u.URI,
		FilePrefix:   u.FilePrefix,
		Filename:     filename,
		FullFilename: u.FilePrefix + filename,
		ResolvedURL:  modeluri.ResolvedURL(r.endpoint, u.Owner, u.Model, modeluri.DefaultRef, remote.Path),
		Size:         remote.Size,
		SHA256:       remote.SHA256,
	}
}
