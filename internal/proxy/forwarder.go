package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrSnakeDoc/wxproxy/internal/errs"
	"github.com/MrSnakeDoc/wxproxy/internal/logger"
	"github.com/MrSnakeDoc/wxproxy/internal/service"
	"github.com/MrSnakeDoc/wxproxy/internal/utils"
)

// scrubbed never travel upstream: per-hop, or owned by our transport.
var scrubbed = []string{"Connection", "Content-Length", "Accept-Encoding"}

// hopByHop never travel back to the client.
var hopByHop = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type Forwarder struct {
	Client    service.HTTPClient
	UserAgent string
}

func New(client service.HTTPClient, userAgent string) *Forwarder {
	return &Forwarder{Client: client, UserAgent: userAgent}
}

// Forward replays r against target. The caller owns the returned body.
func (f *Forwarder) Forward(ctx context.Context, r *http.Request, target string) (*http.Response, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}

	var body io.Reader = http.NoBody
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header = r.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("User-Agent", f.UserAgent)
	for _, h := range scrubbed {
		req.Header.Del(h)
	}
	req.Host = u.Host

	return f.Client.Do(req)
}

// Handler forwards every request under prefix to base, keeping the rest of
// the path and the query verbatim.
func (f *Forwarder) Handler(base, prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := base + strings.TrimPrefix(utils.RequestPath(r), prefix)
		logger.Debug("forward %s %s -> %s", r.Method, utils.RequestPath(r), target)

		resp, err := f.Forward(r.Context(), r, target)
		if err != nil {
			e := errs.Wrap(errs.UpstreamFetchFailure, err, "Proxy error")
			logger.Warn("%s %s: %v", r.Method, target, e)
			http.Error(w, e.Error(), http.StatusBadGateway)
			return
		}
		defer utils.Try(resp.Body.Close)

		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			logger.Warn("copy upstream body for %s: %v", target, err)
			utils.MarkFailed(w, err)
		}
	})
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		dst[k] = append([]string(nil), vs...)
	}
	for _, h := range hopByHop {
		dst.Del(h)
	}
}
