package hf

import (
	"path"
	"sort"
	"strings"

	"github.com/nchapman/modelfetch/internal/modeluri"
	"github.com/nchapman/modelfetch/internal/quant"
)

// ManifestFile is one remote file of a variant.
type ManifestFile struct {
	Path   string
	Size   int64
	SHA256 string
}

// Variant is one quantization of a model, stored either as a single file
// or as a GGUF split.
type Variant struct {
	// Tag is the canonical quantization label, "" for untagged files.
	Tag string

	// Single is set when the variant is published as one file.
	Single *ManifestFile

	// Parts holds the split files in order; PartCount is their count.
	Parts     []ManifestFile
	PartCount int
}

func (v *Variant) IsSplit() bool {
	return v.PartCount > 1
}

// HasSingle reports whether the variant can be fetched as one file.
func (v *Variant) HasSingle() bool {
	return v.Single != nil
}

// Files returns the remote files of the preferred shape, single file first.
func (v *Variant) Files() []ManifestFile {
	if v.Single != nil {
		return []ManifestFile{*v.Single}
	}
	return v.Parts
}

// Manifest lists the GGUF variants a repository publishes.
type Manifest struct {
	Variants map[string]*Variant
}

// Variant returns the variant for tag, matched case-insensitively.
func (m *Manifest) Variant(tag string) *Variant {
	return m.Variants[variantKey(tag)]
}

// Tags returns all tags in preference order.
func (m *Manifest) Tags() []string {
	tags := make([]string, 0, len(m.Variants))
	for _, v := range m.Variants {
		if v.Tag != "" {
			tags = append(tags, v.Tag)
		}
	}
	return quant.Sort(tags)
}

// Best returns the preferred tagged variant, falling back to the untagged one.
func (m *Manifest) Best() *Variant {
	if tag := quant.Best(m.Tags()); tag != "" {
		return m.Variant(tag)
	}
	return m.Variant("")
}

func variantKey(tag string) string {
	return strings.ToUpper(quant.Canonical(tag))
}

// BuildManifest groups the GGUF files of a repository by quantization.
// Multimodal projector files and binary .partXofY splits are skipped since
// neither is loadable as a model on its own.
func BuildManifest(siblings []Sibling) *Manifest {
	m := &Manifest{Variants: make(map[string]*Variant)}

	type splitPart struct {
		index int
		file  ManifestFile
	}
	splits := make(map[string][]splitPart)
	splitCounts := make(map[string]int)

	for _, s := range siblings {
		name := path.Base(s.RFilename)
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		if strings.Contains(strings.ToLower(name), "mmproj") {
			continue
		}

		file := ManifestFile{Path: s.RFilename, Size: s.Size}
		if s.LFS != nil {
			file.SHA256 = s.LFS.SHA256
			if file.Size == 0 {
				file.Size = s.LFS.Size
			}
		}

		tag := quant.Parse(name)
		key := variantKey(tag)
		v, ok := m.Variants[key]
		if !ok {
			v = &Variant{Tag: tag}
			m.Variants[key] = v
		}

		if info, ok := modeluri.ParseSplit(name); ok && !info.Binary && info.Count > 1 {
			// a tag can only have one split layout
			if n, seen := splitCounts[key]; seen && n != info.Count {
				continue
			}
			splitCounts[key] = info.Count
			splits[key] = append(splits[key], splitPart{index: info.Index, file: file})
			continue
		}

		// keep the first single file for a tag
		if v.Single == nil {
			f := file
			v.Single = &f
		}
	}

	for key, parts := range splits {
		v := m.Variants[key]
		count := splitCounts[key]
		if len(parts) != count {
			// incomplete split listing, not downloadable
			continue
		}
		sort.Slice(parts, func(i, j int) bool { return parts[i].index < parts[j].index })
		v.PartCount = count
		v.Parts = make([]ManifestFile, len(parts))
		for i, p := range parts {
			v.Parts[i] = p.file
		}
	}

	for key, v := range m.Variants {
		if v.Single == nil && v.PartCount == 0 {
			delete(m.Variants, key)
		}
	}

	return m
}
