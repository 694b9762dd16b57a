package modeluri

import (
	"net/url"
	"strings"

	"github.com/nchapman/modelfetch/internal/quant"
)

// DefaultEndpoint is the public Hugging Face hub.
const DefaultEndpoint = "https://huggingface.co"

// DefaultTag is tried first when a reference names no tag. Its candidates
// come before the repository's untagged file, so a repository that ships both
// resolves to Q4_K_M even when the hub's own default points elsewhere (e.g.
// IQ3_M). Use WithDefaultTag("") to prefer the untagged file.
const DefaultTag = "Q4_K_M"

var registrySchemes = map[string]bool{
	"hf":          true,
	"huggingface": true,
}

var registryHosts = map[string]bool{
	"huggingface.co": true,
	"hf.co":          true,
}

// reservedPaths are top-level hub pages that look like owner names.
var reservedPaths = map[string]bool{
	"api":         true,
	"blog":        true,
	"collections": true,
	"datasets":    true,
	"docs":        true,
	"models":      true,
	"papers":      true,
	"spaces":      true,
}

// Parser parses model references against one registry endpoint.
type Parser struct {
	endpoint     string
	endpointHost string
	defaultTag   string
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithDefaultTag sets the tag whose candidates come first for references
// without a tag. An empty tag disables them.
func WithDefaultTag(tag string) ParserOption {
	return func(p *Parser) {
		p.defaultTag = strings.TrimSpace(tag)
	}
}

// NewParser creates a parser for the registry at endpoint.
func NewParser(endpoint string, opts ...ParserOption) *Parser {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	p := &Parser{
		endpoint:   endpoint,
		defaultTag: DefaultTag,
	}
	if u, err := url.Parse(endpoint); err == nil {
		p.endpointHost = strings.ToLower(u.Host)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Endpoint returns the registry base URL.
func (p *Parser) Endpoint() string {
	return p.endpoint
}

var defaultParser = NewParser(DefaultEndpoint)

// Parse parses input against the public registry. See Parser.Parse.
func Parse(input string, allowDirectURLs bool) Reference {
	return defaultParser.Parse(input, allowDirectURLs)
}

// Parse returns a *Resolved or *Unresolved reference for input, or nil when
// input is not a registry reference (local paths, foreign URLs, garbage).
// Direct file URLs are only accepted when allowDirectURLs is set; repository
// page URLs are always accepted.
func (p *Parser) Parse(input string, allowDirectURLs bool) Reference {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}

	lower := strings.ToLower(input)
	if strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://") {
		return p.parseURL(input, allowDirectURLs)
	}

	scheme, rest, ok := strings.Cut(input, ":")
	if !ok || !registrySchemes[strings.ToLower(scheme)] {
		return nil
	}
	return p.parseRegistryURI(rest)
}

func (p *Parser) parseURL(input string, allowDirectURLs bool) Reference {
	u, err := url.Parse(input)
	if err != nil || !p.isRegistryHost(u.Host) {
		return nil
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if reservedPaths[strings.ToLower(segments[0])] {
		return nil
	}
	if len(segments) == 2 {
		if !validName(segments[0]) || !validName(segments[1]) {
			return nil
		}
		return p.unresolved(segments[0], segments[1], "")
	}

	if !allowDirectURLs {
		return nil
	}
	owner, model, ref, filePath, ok := ParseRegistryPath(u.EscapedPath())
	if !ok {
		return nil
	}
	return p.resolved(owner, model, ref, filePath)
}

func (p *Parser) isRegistryHost(host string) bool {
	host = strings.ToLower(host)
	if p.endpointHost != "" && host == p.endpointHost {
		return true
	}
	return registryHosts[strings.TrimPrefix(host, "www.")]
}

// parseRegistryURI handles everything after "hf:".
func (p *Parser) parseRegistryURI(rest string) Reference {
	owner, remainder, ok := strings.Cut(rest, "/")
	if !ok || !validName(owner) {
		return nil
	}

	model, filePath, hasFile := strings.Cut(remainder, "/")
	if !hasFile {
		model, tag, _ := strings.Cut(model, ":")
		if !validName(model) || strings.Contains(model, "@") || strings.ContainsAny(tag, " /:") {
			return nil
		}
		return p.unresolved(owner, model, strings.TrimSpace(tag))
	}

	ref := DefaultRef
	if name, rev, ok := strings.Cut(model, "@"); ok {
		rev, err := url.PathUnescape(rev)
		if err != nil || rev == "" {
			return nil
		}
		model, ref = name, rev
	}
	if !validName(model) || !validFilePath(filePath) {
		return nil
	}
	return p.resolved(owner, model, ref, filePath)
}

func (p *Parser) unresolved(owner, model, tag string) *Unresolved {
	if q, ok := quant.Normalize(tag); ok {
		tag = q
	}

	uri := RegistryHuggingFace + ":" + owner + "/" + model
	if tag != "" {
		uri += ":" + tag
	}

	u := &Unresolved{
		URI:          uri,
		RegistryType: RegistryHuggingFace,
		Owner:        owner,
		Model:        model,
		Tag:          tag,
		BaseFilename: BaseFilename(model),
		FilePrefix:   FilePrefix(RegistryHuggingFace, owner),
	}

	stem := u.FilePrefix + u.BaseFilename
	tagged := func(t string) []string {
		t = quant.Canonical(t)
		return []string{
			stem + "." + t + ".gguf",
			stem + "." + t + "-00001-of-" + SplitCountToken + ".gguf",
		}
	}

	switch {
	case tag != "":
		u.PossibleFullFilenames = tagged(tag)
	default:
		if p.defaultTag != "" {
			u.PossibleFullFilenames = tagged(p.defaultTag)
		}
		u.PossibleFullFilenames = append(u.PossibleFullFilenames,
			stem+".gguf",
			stem+"-00001-of-"+SplitCountToken+".gguf",
		)
	}

	return u
}

func (p *Parser) resolved(owner, model, ref, filePath string) *Resolved {
	prefix, filename := CanonicalFilename(RegistryHuggingFace, owner, filePath)

	uri := RegistryHuggingFace + ":" + owner + "/" + model
	if ref != DefaultRef {
		uri += "@" + url.PathEscape(ref)
	}
	uri += "/" + filePath

	return &Resolved{
		URI:          uri,
		FilePrefix:   prefix,
		Filename:     filename,
		FullFilename: prefix + filename,
		ResolvedURL:  ResolvedURL(p.endpoint, owner, model, ref, filePath),
	}
}
