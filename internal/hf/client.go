package hf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nchapman/modelfetch/internal/version"
)

// ErrModelNotFound is returned when the registry has no such repository.
var ErrModelNotFound = errors.New("model not found")

type Client struct {
	endpoint   string
	httpClient *http.Client
	token      string
}

type ModelInfo struct {
	ModelId      string      `json:"modelId"`
	Author       string      `json:"author"`
	SHA          string      `json:"sha"`
	LastModified time.Time   `json:"lastModified"`
	Private      bool        `json:"private"`
	Gated        GatedStatus `json:"gated"`
	Siblings     []Sibling   `json:"siblings"`
	Tags         []string    `json:"tags"`
}

// Sibling is one file of a repository as listed by the model info API.
// Size and LFS are only present when requested with blobs=true.
type Sibling struct {
	RFilename string     `json:"rfilename"`
	Size      int64      `json:"size"`
	LFS       *LFSObject `json:"lfs"`
}

// LFSObject carries Git LFS metadata, including the sha256 used for verification.
type LFSObject struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// GatedStatus handles the HuggingFace "gated" field which can be bool or string.
type GatedStatus bool

func (g *GatedStatus) UnmarshalJSON(data []byte) error {
	// Try bool first
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*g = GatedStatus(b)
		return nil
	}
	// Must be a string like "manual" or "auto" - treat as gated
	*g = true
	return nil
}

type ClientOption func(*Client)

// WithHTTPClient replaces the client used for API calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a registry API client for endpoint. An empty token
// sends anonymous requests.
func NewClient(endpoint, token string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		token: strings.TrimSpace(token),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// HasToken reports whether requests are authenticated.
func (c *Client) HasToken() bool {
	return c.token != ""
}

// Header returns the headers every registry request carries, for reuse by
// file transfers against the same endpoint.
func (c *Client) Header() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	for key, values := range c.Header() {
		// Only set headers the caller has not already set
		if req.Header.Get(key) == "" {
			req.Header[key] = values
		}
	}
	return c.httpClient.Do(req)
}

// GetModel fetches repository metadata including every file with its size
// and LFS hash.
func (c *Client) GetModel(ctx context.Context, owner, model string) (*ModelInfo, error) {
	apiURL := fmt.Sprintf("%s/api/models/%s/%s?blobs=true", c.endpoint, url.PathEscape(owner), url.PathEscape(model))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s/%s: %w", owner, model, ErrModelNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode model info: %w", err)
	}

	return &info, nil
}

// GetManifest fetches the repository and groups its GGUF files by quantization.
func (c *Client) GetManifest(ctx context.Context, owner, model string) (*Manifest, error) {
	info, err := c.GetModel(ctx, owner, model)
	if err != nil {
		return nil, err
	}
	return BuildManifest(info.Siblings), nil
}
