// Package realtime is a client for the replica store: a schemaless key-value
// tree addressed by resource-type path, spoken over the Firebase Realtime
// Database REST dialect. It supports whole-subtree reads, per-child create
// with a generated key, full overwrite, conditional (ETag) writes and a
// push-based change subscription per subtree.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUnreachable marks transport-level failures, as opposed to errors
	// returned by the store itself.
	ErrUnreachable = errors.New("replica store unreachable")

	// ErrPreconditionFailed is returned by SetIfMatch when the subtree
	// changed since the ETag was read.
	ErrPreconditionFailed = errors.New("replica store: precondition failed")
)

type Client struct {
	baseURL string
	secret  string

	http *http.Client
	// streaming requests must not carry the request timeout
	stream *http.Client
}

func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		stream: &http.Client{},
	}
}

func (c *Client) url(path string) string {
	u := c.baseURL + "/" + strings.Trim(path, "/") + ".json"
	if c.secret != "" {
		u += "?auth=" + c.secret
	}
	return u
}

// Get reads a whole subtree into out. A missing path decodes as JSON null
// and leaves out at its zero value.
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	_, err := c.do(ctx, http.MethodGet, path, nil, out, nil)
	return err
}

// GetWithETag reads a subtree and returns the ETag to use for a later
// conditional write.
func (c *Client) GetWithETag(ctx context.Context, path string, out interface{}) (string, error) {
	headers := http.Header{}
	headers.Set("X-Firebase-ETag", "true")
	resp, err := c.do(ctx, http.MethodGet, path, nil, out, headers)
	if err != nil {
		return "", err
	}
	return resp.Header.Get("ETag"), nil
}

// Push creates a child under path with a store-generated key and returns
// that key.
func (c *Client) Push(ctx context.Context, path string, value interface{}) (string, error) {
	var result struct {
		Name string `json:"name"`
	}
	if _, err := c.do(ctx, http.MethodPost, path, value, &result, nil); err != nil {
		return "", err
	}
	if result.Name == "" {
		return "", fmt.Errorf("replica store returned no key for push to %s", path)
	}
	return result.Name, nil
}

// Set overwrites the subtree at path.
func (c *Client) Set(ctx context.Context, path string, value interface{}) error {
	_, err := c.do(ctx, http.MethodPut, path, value, nil, nil)
	return err
}

// SetIfMatch overwrites the subtree only if it still matches etag.
func (c *Client) SetIfMatch(ctx context.Context, path, etag string, value interface{}) error {
	headers := http.Header{}
	headers.Set("if-match", etag)
	_, err := c.do(ctx, http.MethodPut, path, value, nil, headers)
	return err
}

// Update merges value into the subtree at path.
func (c *Client) Update(ctx context.Context, path string, value interface{}) error {
	_, err := c.do(ctx, http.MethodPatch, path, value, nil, nil)
	return err
}

// Delete removes the subtree at path.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, headers http.Header) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, values := range headers {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPreconditionFailed {
		return resp, ErrPreconditionFailed
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp, fmt.Errorf("replica store returned status %d for %s %s: %s",
			resp.StatusCode, method, path, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return resp, nil
}
