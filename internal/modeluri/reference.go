// Package modeluri turns the many ways a user can name a model into a
// canonical reference: either a concrete remote file (Resolved) or a
// repository plus optional quantization tag that still needs a manifest
// lookup (Unresolved).
package modeluri

import (
	"net/url"
	"strings"
)

const (
	// RegistryHuggingFace is the registry type used in URIs and file prefixes.
	RegistryHuggingFace = "hf"

	// DefaultRef is the revision used when none is named.
	DefaultRef = "main"

	// SplitCountToken stands in for the part count in split-file candidates
	// until the manifest tells the resolver how many parts there are.
	SplitCountToken = "{count}"
)

// Reference is either *Resolved or *Unresolved.
type Reference interface {
	// String returns the canonical URI.
	String() string
	isReference()
}

// Unresolved names a repository and an optional tag.
type Unresolved struct {
	URI          string
	RegistryType string
	Owner        string
	Model        string
	Tag          string

	// BaseFilename is the model name without a trailing "-GGUF".
	BaseFilename string
	FilePrefix   string

	// PossibleFullFilenames lists local filenames in the order the resolver
	// should try them. Split entries contain SplitCountToken.
	PossibleFullFilenames []string
}

func (u *Unresolved) String() string { return u.URI }
func (*Unresolved) isReference()     {}

// Repo returns "owner/model".
func (u *Unresolved) Repo() string {
	return u.Owner + "/" + u.Model
}

// RepoURI returns the URI without the tag.
func (u *Unresolved) RepoURI() string {
	return u.RegistryType + ":" + u.Repo()
}

// Resolved names one concrete remote file.
type Resolved struct {
	URI          string
	FilePrefix   string
	Filename     string
	FullFilename string
	ResolvedURL  string

	// Size and SHA256 are hints from the registry manifest, zero when unknown.
	Size   int64
	SHA256 string
}

func (r *Resolved) String() string { return r.URI }
func (*Resolved) isReference()     {}

// IsSplit reports whether the file is the first part of a split model.
func (r *Resolved) IsSplit() bool {
	return IsSplitFirstPart(r.Filename)
}

// Parts expands a split reference into one reference per part, in order.
// A non-split reference is returned on its own.
func (r *Resolved) Parts() []*Resolved {
	localNames := ExpandSplit(r.Filename)
	if len(localNames) < 2 {
		return []*Resolved{r}
	}

	base, query, _ := strings.Cut(r.ResolvedURL, "?")
	idx := strings.LastIndex(base, "/")
	if idx < 0 {
		return []*Resolved{r}
	}
	remote, err := url.PathUnescape(base[idx+1:])
	if err != nil {
		return []*Resolved{r}
	}
	remoteNames := ExpandSplit(remote)
	if len(remoteNames) != len(localNames) {
		return []*Resolved{r}
	}

	parts := make([]*Resolved, len(localNames))
	for i := range localNames {
		partURL := base[:idx+1] + escapePath(remoteNames[i])
		if query != "" {
			partURL += "?" + query
		}
		part := &Resolved{
			URI:          r.URI,
			FilePrefix:   r.FilePrefix,
			Filename:     localNames[i],
			FullFilename: r.FilePrefix + localNames[i],
			ResolvedURL:  partURL,
		}
		if i == 0 {
			part.Size = r.Size
		}
		parts[i] = part
	}
	return parts
}
