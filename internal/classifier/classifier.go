package classifier

import (
	"bytes"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/tanq16/siphon/internal/domain"
)

// Response is the part of an HTTP answer classification looks at.
type Response struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
}

var mediaSignatureCT = regexp.MustCompile(`(?i)\bmpegurl|application/dash|video|octet-stream`)

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mt
}

func urlExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
}

func ambiguous(mt string) bool {
	switch mt {
	case "", "text/plain", "application/octet-stream", "binary/octet-stream":
		return true
	}
	return false
}

// Classify maps a response onto one of the four protocol kinds.
func Classify(resp Response) domain.Kind {
	mt := mediaType(resp.ContentType)
	ext := urlExt(resp.URL)
	switch {
	case mt == "application/json" || strings.HasSuffix(mt, "+json") || ext == "json":
		return domain.KindIndirection
	case ext == "m3u8" || strings.Contains(mt, "mpegurl"):
		return domain.KindHLS
	case ext == "mpd" || mt == "application/dash+xml":
		return domain.KindDASH
	}
	if ambiguous(mt) {
		return sniff(resp.Body)
	}
	return domain.KindDirect
}

func sniff(body []byte) domain.Kind {
	head := bytes.TrimSpace(body)
	if len(head) > 512 {
		head = head[:512]
	}
	switch {
	case bytes.HasPrefix(head, []byte("#EXTM3U")):
		return domain.KindHLS
	case bytes.Contains(head, []byte("<MPD")):
		return domain.KindDASH
	case bytes.HasPrefix(head, []byte("{")) || bytes.HasPrefix(head, []byte("[")):
		return domain.KindIndirection
	}
	return domain.KindDirect
}

// IsPage reports whether resp is a document meant for a browser rather than media.
func IsPage(resp Response) bool {
	switch mediaType(resp.ContentType) {
	case "text/html", "application/xhtml+xml":
		return true
	case "", "text/plain", "application/octet-stream", "binary/octet-stream":
		head := bytes.ToLower(bytes.TrimSpace(resp.Body))
		return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
	}
	return false
}

const playerRoute = "#/player/"

// EmbeddedURL returns the stream URL carried in escaped form by a player route
// anchor such as "#/player/<meta>/https%3A%2F%2Fcdn%2Fv.m3u8". The last such
// segment wins.
func EmbeddedURL(anchor string) (string, bool) {
	idx := strings.Index(anchor, playerRoute)
	if idx < 0 {
		return "", false
	}
	segments := strings.Split(anchor[idx+len(playerRoute):], "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if !strings.HasPrefix(seg, "https%3A%2F%2F") && !strings.HasPrefix(seg, "http%3A%2F%2F") {
			continue
		}
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			continue
		}
		if u, err := url.Parse(decoded); err == nil && u.Host != "" {
			return decoded, true
		}
	}
	return "", false
}

// MatchesMediaSignature reports whether an observed response looks like playable media.
func MatchesMediaSignature(rawURL, contentType string) bool {
	if mediaSignatureCT.MatchString(contentType) {
		return true
	}
	switch urlExt(rawURL) {
	case "m3u8", "mpd", "mp4":
		return true
	}
	return false
}
