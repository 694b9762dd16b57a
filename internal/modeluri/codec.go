package modeluri

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
)

var (
	// GGUF native split: model-00001-of-00003.gguf
	ggufSplitPattern = regexp.MustCompile(`^(.*)-(\d{5})-of-(\d{5})\.gguf$`)
	// Binary split: model.gguf.part1of3
	binarySplitPattern = regexp.MustCompile(`^(.*)\.part(\d+)of(\d+)$`)

	ggufRepoSuffix = regexp.MustCompile(`(?i)-gguf$`)
)

const downloadQuery = "download=true"

// FilePrefix returns the prefix that namespaces local files by registry and owner.
func FilePrefix(registryType, owner string) string {
	return registryType + "_" + owner + "_"
}

// CanonicalFilename returns the local prefix and filename for a file at
// filePath inside a repository. Directories are dropped; the name is kept
// verbatim, split suffixes included.
func CanonicalFilename(registryType, owner, filePath string) (prefix, filename string) {
	return FilePrefix(registryType, owner), path.Base(filePath)
}

// BaseFilename strips a trailing "-GGUF" from a repository name.
func BaseFilename(model string) string {
	return ggufRepoSuffix.ReplaceAllString(model, "")
}

// ResolvedURL builds the download URL for a file in a repository.
func ResolvedURL(endpoint, owner, model, ref, filePath string) string {
	if ref == "" {
		ref = DefaultRef
	}
	repo := escapePath(path.Join(owner, model, "resolve"))
	// a ref such as refs/pr/1 is a single path segment
	return strings.TrimRight(endpoint, "/") + "/" + repo + "/" + url.PathEscape(ref) + "/" +
		escapePath(filePath) + "?" + downloadQuery
}

// ParseRegistryPath splits an escaped registry URL path of the form
// /owner/model/{blob|resolve}/ref/file into its unescaped parts. Segments are
// split before unescaping so a ref like refs%2Fpr%2F1 stays one segment.
func ParseRegistryPath(p string) (owner, model, ref, filePath string, ok bool) {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	if len(segments) < 5 {
		return "", "", "", "", false
	}
	for i, seg := range segments {
		unescaped, err := url.PathUnescape(seg)
		if err != nil {
			return "", "", "", "", false
		}
		segments[i] = unescaped
	}
	if segments[2] != "blob" && segments[2] != "resolve" {
		return "", "", "", "", false
	}

	owner, model, ref = segments[0], segments[1], segments[3]
	filePath = strings.Join(segments[4:], "/")
	if !validName(owner) || !validName(model) || ref == "" || !validFilePath(filePath) {
		return "", "", "", "", false
	}
	return owner, model, ref, filePath, true
}

// SplitFilename returns the name of part index (1-based) of count for a
// GGUF split whose name without suffix is prefix.
func SplitFilename(prefix string, index, count int) string {
	return fmt.Sprintf("%s-%05d-of-%05d.gguf", prefix, index, count)
}

// SplitInfo describes one part of a split file.
type SplitInfo struct {
	Stem   string
	Index  int
	Count  int
	Binary bool
}

// ParseSplit recognizes GGUF split names and binary .partXofY names.
func ParseSplit(name string) (SplitInfo, bool) {
	if m := ggufSplitPattern.FindStringSubmatch(name); m != nil {
		index, _ := strconv.Atoi(m[2])
		count, _ := strconv.Atoi(m[3])
		if index < 1 || count < 1 || index > count {
			return SplitInfo{}, false
		}
		return SplitInfo{Stem: m[1], Index: index, Count: count}, true
	}

	if m := binarySplitPattern.FindStringSubmatch(name); m != nil {
		index, err1 := strconv.Atoi(m[2])
		count, err2 := strconv.Atoi(m[3])
		if err1 != nil || err2 != nil || index < 1 || count < 1 || index > count {
			return SplitInfo{}, false
		}
		return SplitInfo{Stem: m[1], Index: index, Count: count, Binary: true}, true
	}

	return SplitInfo{}, false
}

// IsSplitFirstPart reports whether name is part 1 of a multi-part split.
func IsSplitFirstPart(name string) bool {
	info, ok := ParseSplit(name)
	return ok && info.Index == 1 && info.Count > 1
}

// ExpandSplit returns the names of every part of the split that name
// belongs to, in order. Names that are not splits are returned alone.
func ExpandSplit(name string) []string {
	info, ok := ParseSplit(name)
	if !ok || info.Count < 2 {
		return []string{name}
	}

	names := make([]string, info.Count)
	for i := range names {
		if info.Binary {
			names[i] = fmt.Sprintf("%s.part%dof%d", info.Stem, i+1, info.Count)
		} else {
			names[i] = SplitFilename(info.Stem, i+1, info.Count)
		}
	}
	return names
}

// FillSplitCount replaces SplitCountToken in a candidate filename.
func FillSplitCount(candidate string, count int) string {
	return strings.ReplaceAll(candidate, SplitCountToken, fmt.Sprintf("%05d", count))
}

// Candidate describes one entry of Unresolved.PossibleFullFilenames.
type Candidate struct {
	// Tag is the canonical tag, "" for the untagged variant.
	Tag   string
	Split bool
}

// ParseCandidate decodes a candidate produced for u back into the tag and
// shape it asks for.
func ParseCandidate(u *Unresolved, candidate string) (Candidate, bool) {
	rest, ok := strings.CutPrefix(candidate, u.FilePrefix+u.BaseFilename)
	if !ok {
		return Candidate{}, false
	}

	splitSuffix := "-00001-of-" + SplitCountToken + ".gguf"
	switch {
	case rest == ".gguf":
		return Candidate{}, true
	case rest == splitSuffix:
		return Candidate{Split: true}, true
	case !strings.HasPrefix(rest, "."):
		return Candidate{}, false
	}

	rest = rest[1:]
	if tag, ok := strings.CutSuffix(rest, splitSuffix); ok && tag != "" {
		return Candidate{Tag: tag, Split: true}, true
	}
	if tag, ok := strings.CutSuffix(rest, ".gguf"); ok && tag != "" {
		return Candidate{Tag: tag}, true
	}
	return Candidate{}, false
}

func escapePath(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}

func validName(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, " \t\r\n/\\:?#")
}

func validFilePath(p string) bool {
	if p == "" || strings.HasSuffix(p, "/") || strings.ContainsAny(p, "\\?#:") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}
