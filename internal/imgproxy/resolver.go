package imgproxy

import (
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/wxproxy/internal/codec"
	"github.com/MrSnakeDoc/wxproxy/internal/errs"
	"github.com/MrSnakeDoc/wxproxy/internal/logger"
	"github.com/MrSnakeDoc/wxproxy/internal/service"
)

const (
	acceptImages  = "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"
	fallbackType  = "image/png"
	clientCaching = "public, max-age=86400"
)

type Resolver struct {
	Client    service.HTTPClient
	UserAgent string
}

func New(client service.HTTPClient, userAgent string) *Resolver {
	return &Resolver{Client: client, UserAgent: userAgent}
}

// PreferWebP points PNGs under a /webp/ directory at their WebP twin.
func PreferWebP(u string) string {
	if strings.Contains(u, "/webp/") && strings.HasSuffix(u, ".png") {
		return strings.TrimSuffix(u, ".png") + ".webp"
	}
	return u
}

// Resolve decodes the token at the end of an escaped /img/ path. A literal
// URL token keeps its query; an encoded token never has one.
func Resolve(escapedPath, rawQuery string) (string, error) {
	token := strings.TrimPrefix(escapedPath, codec.ImgPrefix)
	if rawQuery != "" && codec.IsLiteral(token) {
		token += "?" + rawQuery
	}
	u, err := codec.Decode(token)
	if err != nil {
		return "", err
	}
	return PreferWebP(u), nil
}

func (rv *Resolver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := Resolve(r.URL.EscapedPath(), r.URL.RawQuery)
	if err != nil {
		logger.Debug("img: rejecting %s: %v", r.URL.EscapedPath(), err)
		http.Error(w, errs.Msg(errs.InvalidClientToken), http.StatusBadRequest)
		return
	}

	headers := service.BrowserHeaders(rv.UserAgent, map[string]string{"Accept": acceptImages})
	res, err := service.Fetch(r.Context(), rv.Client, target, headers)
	if err != nil {
		e := errs.Wrap(errs.UpstreamFetchFailure, err, "Error proxying image")
		logger.Warn("img %s: %v", target, e)
		http.Error(w, e.Error(), http.StatusInternalServerError)
		return
	}

	contentType := res.Header.Get("Content-Type")
	if contentType == "" {
		contentType = fallbackType
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", clientCaching)
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}
