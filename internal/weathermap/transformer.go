// Package weathermap serves the weather-map bootstrap bundle: the DATA
// object the upstream page embeds in a script, with every image URL
// rewritten to go through this proxy.
package weathermap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/MrSnakeDoc/wxproxy/internal/codec"
	"github.com/MrSnakeDoc/wxproxy/internal/errs"
	"github.com/MrSnakeDoc/wxproxy/internal/logger"
	"github.com/MrSnakeDoc/wxproxy/internal/service"
	"github.com/MrSnakeDoc/wxproxy/internal/utils"
	"github.com/PuerkitoBio/goquery"
	"github.com/titanous/json5"
)

var dataAssignment = regexp.MustCompile(`let\s+DATA\s*=\s*(\{[\s\S]+?\});`)

// Bundle maps layer names to layer objects.
type Bundle map[string]any

type shape int

const (
	shapeUnknown shape = iota
	shapeDirectPics
	shapeNestedResultPics
)

type Transformer struct {
	Client        service.HTTPClient
	PageURL       string
	UserAgent     string
	PublicBaseURL string
	Encoder       *codec.Encoder
}

func New(client service.HTTPClient, pageURL, userAgent, publicBaseURL string) *Transformer {
	return &Transformer{
		Client:        client,
		PageURL:       pageURL,
		UserAgent:     userAgent,
		PublicBaseURL: publicBaseURL,
		Encoder:       codec.NewEncoder(nil),
	}
}

func (t *Transformer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bundle, err := t.Transform(r.Context(), utils.RequestOrigin(r, t.PublicBaseURL))
	if err != nil {
		logger.Warn("weathermap: %v", err)
		msg := err.Error()
		if errs.Is(err, errs.UpstreamFetchFailure) {
			msg = "Error fetching weather data: " + msg
		}
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}

	body, err := marshal(bundle)
	if err != nil {
		http.Error(w, "Error fetching weather data: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// Transform fetches the page, pulls out DATA and rewrites its image URLs
// against origin.
func (t *Transformer) Transform(ctx context.Context, origin string) (Bundle, error) {
	res, err := service.Fetch(ctx, t.Client, t.PageURL, service.BrowserHeaders(t.UserAgent, nil))
	if err != nil {
		return nil, errs.Wrap(errs.UpstreamFetchFailure, err, "fetch weather map page")
	}

	literal, err := Extract(res.Body)
	if err != nil {
		return nil, err
	}

	bundle, err := Parse(literal)
	if err != nil {
		return nil, err
	}

	if err := bundle.Rewrite(func(u string) string { return t.Encoder.ProxyURL(origin, u) }); err != nil {
		return nil, err
	}
	return bundle, nil
}

// Extract returns the object literal assigned to DATA. Script elements are
// searched first; the raw document is the fallback for markup goquery
// cannot make sense of.
func Extract(html []byte) (string, error) {
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html)); err == nil {
		var found string
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if m := dataAssignment.FindStringSubmatch(s.Text()); m != nil {
				found = m[1]
				return false
			}
			return true
		})
		if found != "" {
			return found, nil
		}
	}

	if m := dataAssignment.FindSubmatch(html); m != nil {
		return string(m[1]), nil
	}
	return "", errs.New(errs.MalformedUpstreamData, "DATA not found")
}

// Parse reads a JSON5 object literal. Nothing is ever evaluated.
func Parse(literal string) (Bundle, error) {
	var b Bundle
	if err := json5.Unmarshal([]byte(literal), &b); err != nil {
		return nil, errs.Wrap(errs.MalformedUpstreamData, err, "parse DATA")
	}
	if b == nil {
		return nil, errs.New(errs.MalformedUpstreamData, "DATA is null")
	}
	return b, nil
}

// Rewrite replaces, in place, every image URL of every layer with rewrite(url).
func (b Bundle) Rewrite(rewrite func(string) string) error {
	for key, v := range b {
		layer, ok := v.(map[string]any)
		if !ok {
			return errs.New(errs.MalformedUpstreamData, "layer %q is %T, not an object", key, v)
		}

		var pics []any
		switch classify(layer) {
		case shapeDirectPics:
			pics, ok = layer["pic"].([]any)
		case shapeNestedResultPics:
			pics, ok = layer["result"].(map[string]any)["picture_url"].([]any)
		default:
			return errs.New(errs.MalformedUpstreamData, "layer %q has neither pic nor result.picture_url", key)
		}
		if !ok {
			return errs.New(errs.MalformedUpstreamData, "layer %q picture list is not an array", key)
		}

		for i, p := range pics {
			if s, ok := p.(string); ok {
				pics[i] = rewrite(s)
			}
		}
	}
	return nil
}

func classify(layer map[string]any) shape {
	if pic, ok := layer["pic"]; ok && pic != nil {
		return shapeDirectPics
	}
	if result, ok := layer["result"].(map[string]any); ok {
		if _, ok := result["picture_url"]; ok {
			return shapeNestedResultPics
		}
	}
	return shapeUnknown
}

func marshal(b Bundle) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(b); err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
