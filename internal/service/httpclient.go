package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrSnakeDoc/wxproxy/internal/utils"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type DefaultHTTPClient struct{ *http.Client }

// NewHTTPClient bounds every upstream exchange by timeout; zero disables it.
func NewHTTPClient(timeout time.Duration) *DefaultHTTPClient {
	return &DefaultHTTPClient{Client: &http.Client{Timeout: timeout}}
}

// FetchResult is a fully drained upstream response.
type FetchResult struct {
	Status int
	Header http.Header
	Body   []byte
}

// Fetch performs a GET with the given headers and reads the body to memory.
// Non-2xx statuses are returned as results, not errors; only transport
// failures are errors.
func Fetch(ctx context.Context, c HTTPClient, url string, header http.Header) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return FetchResult{}, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		return FetchResult{}, err
	}
	defer utils.Try(resp.Body.Close)

	var src io.Reader = resp.Body
	respHeader := resp.Header
	if declaresGzip(resp) {
		rc, err := utils.MaybeGunzip(resp.Body)
		if err != nil {
			return FetchResult{}, fmt.Errorf("gunzip body: %w", err)
		}
		src = rc
		respHeader = respHeader.Clone()
		respHeader.Del("Content-Encoding")
		respHeader.Del("Content-Length")
	}

	body, err := io.ReadAll(src)
	if err != nil {
		return FetchResult{}, fmt.Errorf("read body: %w", err)
	}

	return FetchResult{Status: resp.StatusCode, Header: respHeader, Body: body}, nil
}

// declaresGzip is true when the body is still gzip-encoded as announced.
// Undeclared bodies are returned byte for byte, whatever they start with.
func declaresGzip(resp *http.Response) bool {
	return !resp.Uncompressed && strings.EqualFold(strings.TrimSpace(resp.Header.Get("Content-Encoding")), "gzip")
}

// BrowserHeaders returns the header set used to look like a mobile browser.
func BrowserHeaders(userAgent string, extra map[string]string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	for k, v := range extra {
		h.Set(k, v)
	}
	return h
}
