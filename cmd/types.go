package cmd

import (
	"path/filepath"

	"github.com/nchapman/modelfetch/internal/modeluri"
)

// ReferenceView is the printable form of a parsed or resolved reference.
type ReferenceView struct {
	Kind string `json:"kind" yaml:"kind"`
	URI  string `json:"uri" yaml:"uri"`

	// unresolved only
	Owner      string   `json:"owner,omitempty" yaml:"owner,omitempty"`
	Model      string   `json:"model,omitempty" yaml:"model,omitempty"`
	Tag        string   `json:"tag,omitempty" yaml:"tag,omitempty"`
	Candidates []string `json:"candidates,omitempty" yaml:"candidates,omitempty"`

	// resolved only
	Filename string   `json:"filename,omitempty" yaml:"filename,omitempty"`
	URL      string   `json:"url,omitempty" yaml:"url,omitempty"`
	Size     int64    `json:"size,omitempty" yaml:"size,omitempty"`
	SHA256   string   `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	Paths    []string `json:"paths,omitempty" yaml:"paths,omitempty"`
}

func newReferenceView(ref modeluri.Reference, dir string) ReferenceView {
	switch ref := ref.(type) {
	case *modeluri.Unresolved:
		return ReferenceView{
			Kind:       "unresolved",
			URI:        ref.URI,
			Owner:      ref.Owner,
			Model:      ref.Model,
			Tag:        ref.Tag,
			Candidates: ref.PossibleFullFilenames,
		}
	case *modeluri.Resolved:
		view := ReferenceView{
			Kind:     "resolved",
			URI:      ref.URI,
			Filename: ref.FullFilename,
			URL:      ref.ResolvedURL,
			Size:     ref.Size,
			SHA256:   ref.SHA256,
		}
		for _, part := range ref.Parts() {
			view.Paths = append(view.Paths, filepath.Join(dir, part.FullFilename))
		}
		return view
	}
	return ReferenceView{}
}
