package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/wxproxy/internal/cache"
	"github.com/MrSnakeDoc/wxproxy/internal/config"
	"github.com/MrSnakeDoc/wxproxy/internal/duanlin"
	"github.com/MrSnakeDoc/wxproxy/internal/errs"
	"github.com/MrSnakeDoc/wxproxy/internal/imgproxy"
	"github.com/MrSnakeDoc/wxproxy/internal/logger"
	"github.com/MrSnakeDoc/wxproxy/internal/proxy"
	"github.com/MrSnakeDoc/wxproxy/internal/service"
	"github.com/MrSnakeDoc/wxproxy/internal/utils"
	"github.com/MrSnakeDoc/wxproxy/internal/weathermap"
	"github.com/julienschmidt/httprouter"
)

const cacheDateHeader = "X-Cache-Date"

var methods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

type Kind string

const (
	Exact  Kind = "exact"
	Prefix Kind = "prefix"
)

// Route is one row of the dispatch table. Prefixes are disjoint, so
// registration order never changes which route serves a path.
type Route struct {
	Path    string
	Kind    Kind
	Handler string
	Target  string
	handler http.Handler
}

func (rt Route) pattern() string {
	if rt.Kind == Prefix {
		return rt.Path + "*rest"
	}
	return rt.Path
}

// Routes builds the dispatch table for cfg.
func Routes(cfg *config.Config, client service.HTTPClient) []Route {
	up := cfg.Upstreams
	fwd := proxy.New(client, cfg.UserAgent)

	return []Route{
		{
			Path: "/weathercn-data/", Kind: Exact, Handler: "weather-map", Target: up.WeatherMapURL,
			handler: exactQuery(weathermap.New(client, up.WeatherMapURL, cfg.UserAgent, cfg.PublicBaseURL)),
		},
		{Path: "/mpf/", Kind: Prefix, Handler: "forward", Target: up.MPF, handler: fwd.Handler(up.MPF, "/mpf")},
		{
			Path: "/duanlin/", Kind: Prefix, Handler: "duanlin", Target: up.ImgHost + "/mpfv3/",
			handler: duanlin.New(client, up.ImgHost, up.Referer, cfg.UserAgent, cfg.PublicBaseURL),
		},
		{Path: "/wtr-v3/", Kind: Prefix, Handler: "forward", Target: up.Xiaomi, handler: fwd.Handler(up.Xiaomi, "/wtr-v3")},
		{Path: "/img/", Kind: Prefix, Handler: "image", Target: "decoded token", handler: imgproxy.New(client, cfg.UserAgent)},
		{Path: "/d3/", Kind: Prefix, Handler: "forward", Target: up.D3, handler: fwd.Handler(up.D3, "/d3")},
		{Path: "/d4/", Kind: Prefix, Handler: "forward", Target: up.D4, handler: fwd.Handler(up.D4, "/d4")},
	}
}

func newRouter(routes []Route) *httprouter.Router {
	r := httprouter.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.HandleMethodNotAllowed = false
	r.HandleOPTIONS = false
	r.NotFound = http.HandlerFunc(notFound)
	r.PanicHandler = recovered

	for _, rt := range routes {
		for _, m := range methods {
			r.Handler(m, rt.pattern(), rt.handler)
		}
	}
	return r
}

// exactQuery keeps an exact route exact: the path must match with no query.
func exactQuery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" || r.URL.ForceQuery {
			notFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, errs.Msg(errs.UnroutablePath), http.StatusNotFound)
}

func recovered(w http.ResponseWriter, r *http.Request, v interface{}) {
	if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
		panic(v)
	}
	logger.LogError("panic serving %s %s: %v", r.Method, utils.RequestPath(r), v)
	utils.MarkFailed(w, fmt.Errorf("panic: %v", v))
	http.Error(w, fmt.Sprintf("Server Error: %v", v), http.StatusInternalServerError)
}

// withCache answers GETs from store and records every successful GET it
// had to compute. Other methods pass straight through.
func withCache(store *cache.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := utils.RequestPath(r)
		key := r.Method + ":" + path
		cacheable := r.Method == http.MethodGet

		if cacheable {
			if e, ok := store.Get(key); ok {
				replay(w, e)
				logger.Access("request", "method", r.Method, "path", path, "status", e.Status,
					"cache", "hit", "duration", time.Since(start))
				return
			}
		}

		cw := newCaptureWriter(w)
		next.ServeHTTP(cw, r)

		status, header, body := cw.Snapshot()
		outcome := "bypass"
		if cacheable {
			outcome = "miss"
			if err := cw.Complete(); err != nil {
				outcome = "incomplete"
				logger.Debug("not caching %s: %v", key, err)
			} else if status >= 200 && status < 300 {
				captured := time.Now()
				header.Set(cacheDateHeader, captured.UTC().Format(time.RFC3339))
				store.Set(key, cache.Entry{Body: body, Status: status, Header: header})
				outcome = "store"
			}
		}
		logger.Access("request", "method", r.Method, "path", path, "status", status,
			"cache", outcome, "duration", time.Since(start))
	})
}

func replay(w http.ResponseWriter, e cache.Entry) {
	h := w.Header()
	for k, vs := range e.Header {
		h[k] = append([]string(nil), vs...)
	}
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}
