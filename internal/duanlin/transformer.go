// Package duanlin rebuilds the short-term precipitation ("duanlin") radar
// sequence into index-aligned, chronologically ascending arrays of frame
// times, proxied image URLs and observed/forecast flags.
package duanlin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/MrSnakeDoc/wxproxy/internal/codec"
	"github.com/MrSnakeDoc/wxproxy/internal/errs"
	"github.com/MrSnakeDoc/wxproxy/internal/logger"
	"github.com/MrSnakeDoc/wxproxy/internal/service"
	"github.com/MrSnakeDoc/wxproxy/internal/utils"
)

const (
	RoutePrefix    = "/duanlin"
	upstreamPrefix = "/mpfv3"
	datePrefixLen  = 8
	picType        = "precipitation"
)

type FrameType int

const (
	Observed FrameType = 1
	Forecast FrameType = 2
)

// bounds of the national composite the tiles are rendered over
var chinaBounds = LocationRange{
	BottomLat: "10.160640206803123",
	LeftLon:   "73.44630749105424",
	TopLat:    "53.560640206803123",
	RightLon:  "135.09",
}

type upstreamPayload struct {
	Value   []upstreamItem  `json:"value"`
	Obstime json.RawMessage `json:"obstime"`
	Stime   json.RawMessage `json:"stime"`
}

type upstreamItem struct {
	Date []string `json:"date"`
	Time []string `json:"time"`
	Path []string `json:"path"`
}

type Response struct {
	RainDL RainDL `json:"rain_dl"`
}

type RainDL struct {
	Time              TimeInfo      `json:"time"`
	PicsLocationRange LocationRange `json:"pics_location_range"`
	Result            Result        `json:"result"`
	PicType           string        `json:"pic_type"`
}

type TimeInfo struct {
	Obstime json.RawMessage `json:"obstime"`
	Stime   json.RawMessage `json:"stime"`
}

type LocationRange struct {
	BottomLat json.Number `json:"bottom_lat"`
	LeftLon   json.Number `json:"left_lon"`
	TopLat    json.Number `json:"top_lat"`
	RightLon  json.Number `json:"right_lon"`
}

type Result struct {
	PictureURL       []string    `json:"picture_url"`
	ForecastTimeList []string    `json:"forecast_time_list"`
	Type             []FrameType `json:"type"`
}

type Transformer struct {
	Client        service.HTTPClient
	ImgHost       string
	Referer       string
	UserAgent     string
	PublicBaseURL string
	Encoder       *codec.Encoder
}

func New(client service.HTTPClient, imgHost, referer, userAgent, publicBaseURL string) *Transformer {
	return &Transformer{
		Client:        client,
		ImgHost:       strings.TrimRight(imgHost, "/"),
		Referer:       referer,
		UserAgent:     userAgent,
		PublicBaseURL: publicBaseURL,
		Encoder:       codec.NewEncoder(nil),
	}
}

func (t *Transformer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fail := func(err error) {
		logger.Warn("duanlin %s: %v", r.URL.Path, err)
		http.Error(w, "Error processing duanlin data: "+err.Error(), http.StatusInternalServerError)
	}

	out, err := t.Transform(r.Context(), utils.RequestPath(r), utils.RequestOrigin(r, t.PublicBaseURL))
	if err != nil {
		fail(err)
		return
	}

	body, err := json.Marshal(out)
	if err != nil {
		fail(err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// Target maps an inbound /duanlin/... path onto the upstream /mpfv3/... one.
func (t *Transformer) Target(requestPath string) string {
	return t.ImgHost + upstreamPrefix + strings.TrimPrefix(requestPath, RoutePrefix)
}

func (t *Transformer) Transform(ctx context.Context, requestPath, origin string) (*Response, error) {
	headers := service.BrowserHeaders(t.UserAgent, map[string]string{"Referer": t.Referer})
	res, err := service.Fetch(ctx, t.Client, t.Target(requestPath), headers)
	if err != nil {
		return nil, errs.Wrap(errs.UpstreamFetchFailure, err, "fetch radar sequence")
	}

	payload, err := parsePayload(res.Body)
	if err != nil {
		return nil, err
	}

	imageBase := t.ImgHost + upstreamPrefix + "/"
	return Build(payload, func(p string) string {
		return t.Encoder.ProxyURL(origin, imageBase+p)
	})
}

// parsePayload decodes the first JSON object in body; upstream sometimes
// pads it with a callback name.
func parsePayload(body []byte) (*upstreamPayload, error) {
	idx := bytes.IndexByte(body, '{')
	if idx < 0 {
		return nil, errs.New(errs.MalformedUpstreamData, "no JSON object in upstream body")
	}

	var p upstreamPayload
	if err := json.NewDecoder(bytes.NewReader(body[idx:])).Decode(&p); err != nil {
		return nil, errs.Wrap(errs.MalformedUpstreamData, err, "decode radar sequence")
	}
	return &p, nil
}

// Build walks the upstream items newest-last and emits ascending frames.
func Build(p *upstreamPayload, proxy func(path string) string) (*Response, error) {
	stime := digits(string(p.Stime))
	if stime == "" {
		return nil, errs.New(errs.MalformedUpstreamData, "stime missing")
	}

	var times, pics []string
	for i := len(p.Value) - 1; i >= 0; i-- {
		item := p.Value[i]
		if len(item.Date) == 0 {
			return nil, errs.New(errs.MalformedUpstreamData, "value[%d] has no date", i)
		}
		if len(item.Time) != len(item.Path) {
			return nil, errs.New(errs.MalformedUpstreamData,
				"value[%d] has %d times but %d paths", i, len(item.Time), len(item.Path))
		}

		day := truncateRunes(item.Date[0], datePrefixLen)
		for _, tm := range utils.Reversed(item.Time) {
			times = append(times, day+tm)
		}
		pics = append(pics, utils.Map(utils.Reversed(item.Path), proxy)...)
	}

	types := make([]FrameType, len(times))
	for i, tm := range times {
		types[i] = Classify(tm, stime)
	}

	return &Response{RainDL: RainDL{
		Time:              TimeInfo{Obstime: rawOrNull(p.Obstime), Stime: p.Stime},
		PicsLocationRange: chinaBounds,
		Result: Result{
			PictureURL:       nonNil(pics),
			ForecastTimeList: nonNil(times),
			Type:             types,
		},
		PicType: picType,
	}}, nil
}

// Classify marks a frame Observed when the reference time is strictly later.
// Both sides are reduced to digits and right-padded to equal width, so an
// hour-precision reference compares correctly against minute-precision frames.
func Classify(frame, reference string) FrameType {
	f, ref := digits(frame), digits(reference)
	if n := max(len(f), len(ref)); n > 0 {
		f = padRight(f, n)
		ref = padRight(ref, n)
	}
	if ref > f {
		return Observed
	}
	return Forecast
}

func digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat("0", n-len(s))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func rawOrNull(m json.RawMessage) json.RawMessage {
	if len(m) == 0 {
		return json.RawMessage("null")
	}
	return m
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (f FrameType) String() string {
	switch f {
	case Observed:
		return "observed"
	case Forecast:
		return "forecast"
	}
	return fmt.Sprintf("FrameType(%d)", int(f))
}
