package qsdk

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

	"github.com/oapi-codegen/runtime"
	"github.com/quatton/jobman/pkg/qsdk/qerr"
)

// DefaultTimeout bounds a single request when the caller's context has no deadline.
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx answer from a jobman service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// ClientOption configures a client
type ClientOption func(*client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithTimeout bounds every request made by the client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *client) {
		c.timeout = d
	}
}

type client struct {
	baseURL string
	hc      *http.Client
	timeout time.Duration
}

func newClient(baseURL string, opts ...ClientOption) client {
	c := client{
		baseURL: NormalizeHost(baseURL),
		hc:      http.DefaultClient,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// BaseURL returns the normalised service URL.
func (c *client) BaseURL() string {
	return c.baseURL
}

// pathParam encodes a path parameter the same way generated OpenAPI clients do.
func pathParam(name string, value string) (string, error) {
	return runtime.StyleParamWithLocation("simple", false, name, runtime.ParamLocationPath, value)
}

// do sends a JSON request and decodes a JSON answer into out (when non-nil).
// Transport failures map to CodeUnreachable, non-2xx answers to a code
// derived from the status.
func (c *client) do(ctx context.Context, method, path string, header http.Header, in, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return qerr.New(qerr.CodeUnreachable, fmt.Errorf("%s %s: %w", method, c.baseURL, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return qerr.New(qerr.CodeUnreachable, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
		return qerr.New(codeForStatus(resp.StatusCode), apiErr)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return qerr.New(qerr.CodeRejected, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func codeForStatus(status int) qerr.Code {
	switch status {
	case http.StatusNotFound:
		return qerr.CodeNotFound
	case http.StatusConflict:
		return qerr.CodeConflict
	case http.StatusServiceUnavailable:
		return qerr.CodeNoCapacity
	default:
		return qerr.CodeRejected
	}
}

// errorMessage extracts the message from an {"error": "..."} body.
func errorMessage(data []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	return strings.TrimSpace(string(data))
}

// NormalizeHost makes sure a host has a scheme and no trailing slash.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return host
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return strings.TrimRight(host, "/")
}
