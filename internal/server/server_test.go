package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrSnakeDoc/wxproxy/internal/cache"
	"github.com/MrSnakeDoc/wxproxy/internal/codec"
	"github.com/MrSnakeDoc/wxproxy/internal/config"
	"github.com/MrSnakeDoc/wxproxy/internal/logger"
	"github.com/MrSnakeDoc/wxproxy/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.UseTestMode()
	os.Exit(m.Run())
}

type seen struct {
	Method string
	URI    string
	Host   string
	Header http.Header
	Body   string
}

type upstream struct {
	*httptest.Server
	mu    sync.Mutex
	calls []seen
	hits  atomic.Int32
}

func newUpstream(t *testing.T, h http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.calls = append(u.calls, seen{Method: r.Method, URI: r.RequestURI, Host: r.Host, Header: r.Header.Clone(), Body: string(body)})
		u.mu.Unlock()
		u.hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) last() seen {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[len(u.calls)-1]
}

func testConfig(base string) *config.Config {
	cfg := config.Default()
	cfg.Upstreams = config.Upstreams{
		MPF:           base + "/mpf-up",
		Xiaomi:        base + "/xiaomi",
		D3:            base + "/d3-up",
		D4:            base + "/d4-up",
		ImgHost:       base,
		WeatherMapURL: base + "/weatherMap.do?id=1",
		Referer:       base + "/",
	}
	return &cfg
}

func newTestServer(t *testing.T, up *upstream, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := testConfig(up.URL)
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg, cache.New(cfg.CacheTTL), service.NewHTTPClient(5*time.Second))
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "http://proxy.local"+target, body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestForwardKeepsPathAndQuery(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	})
	s := newTestServer(t, up, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/d3/foo?x=1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"ok":true}`, rec.Body.String())
	got := up.last()
	assert.Equal(t, "/d3-up/foo?x=1", got.URI)
	assert.Equal(t, strings.TrimPrefix(up.URL, "http://"), got.Host)
	assert.Equal(t, config.IPhoneUserAgent, got.Header.Get("User-Agent"))
}

func TestForwardStripsConnectionHeader(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	s := newTestServer(t, up, nil)

	req := httptest.NewRequest(http.MethodGet, "http://proxy.local/wtr-v3/weather/all?a=b", nil)
	req.Header.Set("Connection", "X-Secret")
	req.Header.Set("X-Secret", "1")
	req.Header.Set("X-Trace", "abc")
	s.Handler().ServeHTTP(httptest.NewRecorder(), req)

	got := up.last()
	assert.Equal(t, "/xiaomi/weather/all?a=b", got.URI)
	assert.Equal(t, "abc", got.Header.Get("X-Trace"))
	assert.NotContains(t, got.Header.Get("Connection"), "X-Secret")
}

func TestCacheHitServesStoredResponse(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "payload")
	})
	s := newTestServer(t, up, nil)

	first := do(t, s.Handler(), http.MethodGet, "/mpf/a?b=1", nil)
	second := do(t, s.Handler(), http.MethodGet, "/mpf/a?b=1", nil)

	assert.Equal(t, int32(1), up.hits.Load())
	assert.Equal(t, "payload", first.Body.String())
	assert.Equal(t, "payload", second.Body.String())
	assert.Equal(t, "text/plain", second.Header().Get("Content-Type"))
	assert.NotEmpty(t, second.Header().Get(cacheDateHeader))
	assert.Empty(t, first.Header().Get(cacheDateHeader))

	do(t, s.Handler(), http.MethodGet, "/mpf/a?b=2", nil)
	assert.Equal(t, int32(2), up.hits.Load(), "different query is a different key")
}

func TestCacheIgnoresNonGet(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, "%s #%d", r.Method, 1)
	})
	s := newTestServer(t, up, nil)

	post := do(t, s.Handler(), http.MethodPost, "/mpf/x", strings.NewReader("form=1"))
	require.Equal(t, http.StatusOK, post.Code)
	assert.Equal(t, "form=1", up.last().Body)
	assert.Equal(t, 0, s.Store().Len())

	do(t, s.Handler(), http.MethodPost, "/mpf/x", strings.NewReader("form=2"))
	assert.Equal(t, int32(2), up.hits.Load())

	get := do(t, s.Handler(), http.MethodGet, "/mpf/x", nil)
	assert.Equal(t, "GET #1", get.Body.String())
	assert.Equal(t, int32(3), up.hits.Load(), "POST never populates the GET entry")
}

func TestCacheSkipsErrorResponses(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	})
	s := newTestServer(t, up, nil)

	for i := 0; i < 2; i++ {
		rec := do(t, s.Handler(), http.MethodGet, "/d4/x", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	}
	assert.Equal(t, int32(2), up.hits.Load())
	assert.Equal(t, 0, s.Store().Len())
}

func TestCacheExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "fresh")
	})
	cfg := testConfig(up.URL)
	s := New(cfg, cache.New(time.Minute, cache.WithClock(clock)), service.NewHTTPClient(5*time.Second))

	do(t, s.Handler(), http.MethodGet, "/d3/t", nil)
	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()
	do(t, s.Handler(), http.MethodGet, "/d3/t", nil)

	assert.Equal(t, int32(2), up.hits.Load())
}

func TestInvalidImageToken(t *testing.T) {
	up := newUpstream(t, func(http.ResponseWriter, *http.Request) {})
	s := newTestServer(t, up, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/img/!!!not-a-token", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid image URL")
	assert.Equal(t, int32(0), up.hits.Load())
}

func TestImageRoute(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		_, _ = io.WriteString(w, "RIFF")
	})
	s := newTestServer(t, up, nil)

	tok := codec.Encode(up.URL + "/mpfv3/webp/a.png")
	rec := do(t, s.Handler(), http.MethodGet, "/img/"+tok, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/mpfv3/webp/a.webp", up.last().URI)
	assert.Equal(t, "RIFF", rec.Body.String())
}

func TestUnknownPath(t *testing.T) {
	up := newUpstream(t, func(http.ResponseWriter, *http.Request) {})
	s := newTestServer(t, up, nil)

	for _, p := range []string{"/", "/nope", "/mpf", "/weathercn-data", "/weathercn-data/?x=1"} {
		rec := do(t, s.Handler(), http.MethodGet, p, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, p)
		assert.Contains(t, rec.Body.String(), "Not Found", p)
	}
	assert.Equal(t, int32(0), up.hits.Load())
}

func TestWeatherMapRoute(t *testing.T) {
	page := `<html><script>let DATA = {"radar":{"pic":["https://pic/a.png"]}};</script></html>`
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, page)
	})
	s := newTestServer(t, up, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/weathercn-data/", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/weatherMap.do?id=1", up.last().URI)
	assert.Contains(t, rec.Body.String(), "http://proxy.local/img/")
	assert.NotContains(t, rec.Body.String(), "https://pic/a.png")
}

func TestPanicBecomes500(t *testing.T) {
	r := newRouter([]Route{{
		Path: "/boom/", Kind: Prefix,
		handler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("kaboom") }),
	}})

	rec := do(t, r, http.MethodGet, "/boom/x", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Server Error: kaboom")
}

func TestRateLimit(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	s := newTestServer(t, up, func(c *config.Config) {
		c.RateLimit = 0.001
		c.RateBurst = 2
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, s.Handler(), http.MethodGet, "/d3/r", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRoutesTable(t *testing.T) {
	s := New(testConfig("https://up.example"), nil, service.NewHTTPClient(time.Second))

	var paths []string
	for _, rt := range s.Routes() {
		paths = append(paths, rt.Path)
	}
	assert.Equal(t, []string{"/weathercn-data/", "/mpf/", "/duanlin/", "/wtr-v3/", "/img/", "/d3/", "/d4/"}, paths)
	assert.Equal(t, Exact, s.Routes()[0].Kind)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "live")
	})
	s := newTestServer(t, up, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/d3/live")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "live", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

type resetBody struct{ r io.Reader }

func (b *resetBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF {
		return n, errors.New("connection reset by peer")
	}
	return n, err
}

func (*resetBody) Close() error { return nil }

// truncatingClient answers 200 with a body that dies partway through.
type truncatingClient struct{ calls atomic.Int32 }

func (c *truncatingClient) Do(*http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       &resetBody{r: strings.NewReader(`{"partial":`)},
	}, nil
}

func TestCacheSkipsTruncatedUpstreamBody(t *testing.T) {
	cfg := testConfig("https://up.example")
	client := &truncatingClient{}
	s := New(cfg, cache.New(cfg.CacheTTL), client)

	first := do(t, s.Handler(), http.MethodGet, "/d3/foo", nil)
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, `{"partial":`, first.Body.String())
	assert.Equal(t, 0, s.Store().Len())

	do(t, s.Handler(), http.MethodGet, "/d3/foo", nil)
	assert.Equal(t, int32(2), client.calls.Load(), "the partial body is never replayed")
}

// goneClient is a ResponseWriter whose peer has hung up.
type goneClient struct {
	header http.Header
	status int
}

func (g *goneClient) Header() http.Header {
	if g.header == nil {
		g.header = http.Header{}
	}
	return g.header
}

func (g *goneClient) WriteHeader(status int) { g.status = status }

func (g *goneClient) Write([]byte) (int, error) { return 0, errors.New("write: broken pipe") }

func TestCacheSkipsWhenClientDisconnects(t *testing.T) {
	page := `<script>let DATA = {radar: {pic: ['https://pic/a.png']}};</script>`
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, page)
	})
	s := newTestServer(t, up, nil)

	s.Handler().ServeHTTP(&goneClient{}, httptest.NewRequest(http.MethodGet, "http://proxy.local/weathercn-data/", nil))
	assert.Equal(t, 0, s.Store().Len())

	rec := do(t, s.Handler(), http.MethodGet, "/weathercn-data/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(2), up.hits.Load())
	assert.Equal(t, 1, s.Store().Len())
}

func TestCacheSkipsPanicAfterHeader(t *testing.T) {
	store := cache.New(time.Minute)
	h := withCache(store, newRouter([]Route{{
		Path: "/half/", Kind: Prefix,
		handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, "half")
			panic("mid-stream")
		}),
	}}))

	rec := do(t, h, http.MethodGet, "/half/x", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, store.Len())
}

func TestCacheSkipsShortContentLength(t *testing.T) {
	store := cache.New(time.Minute)
	h := withCache(store, newRouter([]Route{{
		Path: "/short/", Kind: Prefix,
		handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Length", "100")
			_, _ = io.WriteString(w, "tiny")
		}),
	}}))

	do(t, h, http.MethodGet, "/short/x", nil)
	assert.Equal(t, 0, store.Len())
}

func TestCacheSkipsDuanlinFailure(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "not json at all")
	})
	s := newTestServer(t, up, nil)

	for i := 0; i < 2; i++ {
		rec := do(t, s.Handler(), http.MethodGet, "/duanlin/radar/seq.json", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}
	assert.Equal(t, "/mpfv3/radar/seq.json", up.last().URI)
	assert.Equal(t, int32(2), up.hits.Load())
	assert.Equal(t, 0, s.Store().Len())
}

func TestWeatherMapServedFromCache(t *testing.T) {
	page := `<script>let DATA = {radar: {pic: ['https://pic/a.png']}};</script>`
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, page)
	})
	s := newTestServer(t, up, nil)

	first := do(t, s.Handler(), http.MethodGet, "/weathercn-data/", nil)
	second := do(t, s.Handler(), http.MethodGet, "/weathercn-data/", nil)

	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, int32(1), up.hits.Load())
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
}
