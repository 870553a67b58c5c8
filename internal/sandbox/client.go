// Package sandbox is the client for the remote workspace provider. Every
// tool operation is one synchronous HTTP round trip addressed by workspace
// id, with a structured success/error envelope on the wire. The provider
// itself (VM lifecycle, snapshots, networking) is outside this process.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultRequestTimeout = 60 * time.Second

// Config configures the workspace provider client.
type Config struct {
	// BaseURL is the provider API root, e.g. "https://sandbox.internal/api".
	BaseURL string

	// APIKey authenticates requests via a bearer token.
	APIKey string

	// RequestTimeout bounds each operation. Default: 60s.
	RequestTimeout time.Duration
}

// ResolveConfig fills empty fields from the environment and validates the
// result.
func ResolveConfig(cfg Config) (Config, error) {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)

	if cfg.BaseURL == "" {
		cfg.BaseURL = strings.TrimSpace(os.Getenv("ANVIL_SANDBOX_URL"))
	}
	if cfg.APIKey == "" {
		cfg.APIKey = strings.TrimSpace(os.Getenv("ANVIL_SANDBOX_API_KEY"))
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	if cfg.BaseURL == "" {
		return cfg, errors.New("sandbox: base URL is required")
	}
	return cfg, nil
}

// APIError is a structured failure from the provider. The envelope contract
// guarantees every non-2xx response carries one; an opaque failure (bad
// JSON, connection reset) is wrapped in a plain error instead.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("sandbox: %s (%s, status %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("sandbox: %s (status %d)", e.Message, e.Status)
}

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// SearchMatch is one pattern-search hit.
type SearchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// ExecResult is the outcome of a terminal command.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// envelope is the provider's response wrapper.
type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Client talks to the workspace provider. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a provider client from a resolved config.
func NewClient(cfg Config) (*Client, error) {
	cfg, err := ResolveConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}, nil
}

// ReadFile returns the content of path inside the workspace.
func (c *Client) ReadFile(ctx context.Context, workspaceID, path string) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	err := c.call(ctx, workspaceID, "files/read", map[string]any{"path": path}, &out)
	return out.Content, err
}

// WriteFile creates or replaces path with content.
func (c *Client) WriteFile(ctx context.Context, workspaceID, path, content string) error {
	return c.call(ctx, workspaceID, "files/write", map[string]any{"path": path, "content": content}, nil)
}

// DeleteFile removes path.
func (c *Client) DeleteFile(ctx context.Context, workspaceID, path string) error {
	return c.call(ctx, workspaceID, "files/delete", map[string]any{"path": path}, nil)
}

// ListDir lists the entries of a directory.
func (c *Client) ListDir(ctx context.Context, workspaceID, path string) ([]DirEntry, error) {
	var out struct {
		Entries []DirEntry `json:"entries"`
	}
	err := c.call(ctx, workspaceID, "files/list", map[string]any{"path": path}, &out)
	return out.Entries, err
}

// Search runs a pattern search rooted at path ("" = workspace root).
func (c *Client) Search(ctx context.Context, workspaceID, pattern, path string) ([]SearchMatch, error) {
	var out struct {
		Matches []SearchMatch `json:"matches"`
	}
	err := c.call(ctx, workspaceID, "search", map[string]any{"pattern": pattern, "path": path}, &out)
	return out.Matches, err
}

// Exec runs a terminal command in the workspace and waits for it to finish.
// A non-zero exit code is data in the result, not an error.
func (c *Client) Exec(ctx context.Context, workspaceID, command string) (*ExecResult, error) {
	var out ExecResult
	if err := c.call(ctx, workspaceID, "exec", map[string]any{"command": command}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, workspaceID, op string, body map[string]any, out any) error {
	if workspaceID == "" {
		return errors.New("sandbox: workspace id is required")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sandbox: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/workspaces/%s/%s", c.baseURL, workspaceID, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sandbox: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox: %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("sandbox: read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("sandbox: %s: malformed response (status %d): %w", op, resp.StatusCode, err)
	}

	if !env.OK {
		apiErr := env.Error
		if apiErr == nil {
			apiErr = &APIError{Message: "unspecified provider error"}
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("sandbox: %s: decode data: %w", op, err)
		}
	}
	return nil
}
