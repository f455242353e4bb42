// Package codec turns absolute upstream image URLs into opaque /img/ tokens
// and back.
//
// A token is two random letters followed by the standard base64 of the URL.
// The letters carry no information; they only keep otherwise identical
// tokens from colliding in client and CDN caches.
package codec

import (
	"encoding/base64"
	"math/rand"
	"net/url"
	"strings"

	"github.com/MrSnakeDoc/wxproxy/internal/errs"
)

const (
	letters    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	prefixLen  = 2
	ImgPrefix  = "/img/"
	tailMarker = "$$"
)

type Encoder struct {
	intn func(n int) int
}

// NewEncoder builds an Encoder drawing prefix letters from intn. A nil intn
// uses math/rand.
func NewEncoder(intn func(n int) int) *Encoder {
	if intn == nil {
		intn = rand.Intn
	}
	return &Encoder{intn: intn}
}

var defaultEncoder = NewEncoder(nil)

func Encode(raw string) string { return defaultEncoder.Encode(raw) }

func ProxyURL(origin, imageURL string) string { return defaultEncoder.ProxyURL(origin, imageURL) }

func (e *Encoder) Encode(raw string) string {
	var b strings.Builder
	b.Grow(prefixLen + base64.StdEncoding.EncodedLen(len(raw)))
	for i := 0; i < prefixLen; i++ {
		b.WriteByte(letters[e.intn(len(letters))])
	}
	b.WriteString(base64.StdEncoding.EncodeToString([]byte(raw)))
	return b.String()
}

// ProxyURL returns the address under which this proxy serves imageURL.
// With an empty origin the result is relative (no leading slash).
func (e *Encoder) ProxyURL(origin, imageURL string) string {
	u := strings.TrimRight(origin, "/") + ImgPrefix + e.Encode(imageURL)
	return strings.TrimPrefix(u, "/")
}

// Decode resolves a token back to its URL. Literal percent-encoded URLs are
// accepted first, then the prefixed base64 form. Anything following a "$$"
// marker is dropped.
func Decode(token string) (string, error) {
	if IsLiteral(token) {
		u, _ := url.PathUnescape(token)
		return truncateTail(u), nil
	}

	if u, ok := decodeBase64(token); ok {
		return truncateTail(u), nil
	}

	// clients occasionally percent-encode '+' and '/' in the path
	if unescaped, err := url.PathUnescape(token); err == nil && unescaped != token {
		if u, ok := decodeBase64(unescaped); ok {
			return truncateTail(u), nil
		}
	}

	return "", errs.New(errs.InvalidClientToken, "%s", errs.Msg(errs.InvalidClientToken))
}

// IsLiteral reports whether token is a plain, possibly percent-encoded,
// http(s) URL rather than an encoded one.
func IsLiteral(token string) bool {
	u, err := url.PathUnescape(token)
	return err == nil && hasHTTPScheme(u)
}

func decodeBase64(token string) (string, bool) {
	if len(token) <= prefixLen {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(token[prefixLen:])
	if err != nil {
		return "", false
	}
	s := string(raw)
	return s, hasHTTPScheme(s)
}

func hasHTTPScheme(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func truncateTail(s string) string {
	if i := strings.Index(s, tailMarker); i >= 0 {
		return s[:i]
	}
	return s
}
