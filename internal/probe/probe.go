package probe

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
)

// Observation is a response seen inside a playback context that carries a media signature.
type Observation struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Status      int    `json:"status"`
	Context     string `json:"ctx,omitempty"`
}

// Hint is a media URL already known when discovery starts.
type Hint struct {
	URL string
	// Authoritative is set when the URL came with the request rather than from a heuristic.
	Authoritative bool
}

// Session is a pending discovery attempt.
type Session struct {
	ID        string
	ItemID    string
	Anchor    string
	StartedAt time.Time
}

// Decision is the single outcome of a session: a URL to acquire, or an error.
type Decision struct {
	Session    Session
	URL        string
	Discovered bool
	Err        error
}

// Phase names reported while a session is pending.
const (
	PhaseProbing         = "probing"
	PhaseWaiting         = "probing-waiting"
	PhaseDiscovered      = "probe-media-discovered"
	PhaseTimeout         = "probe-timeout"
	PhaseContextOpen     = "probe-context-open"
	PhaseContextError    = "probe-context-error"
	PhaseContextTornDown = "probe-context-closed"
)

type Policy struct {
	// AuthoritativeTimeout applies when the request carried its own media URL.
	AuthoritativeTimeout time.Duration
	// HeuristicTimeout applies when a candidate was guessed from an indirection body.
	HeuristicTimeout time.Duration
	// DefaultTimeout applies when nothing is known.
	DefaultTimeout time.Duration
	// WaitingAfter emits the waiting phase for sessions still pending.
	WaitingAfter time.Duration
	// Ceiling bounds the lifetime of a hidden playback context.
	Ceiling time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		AuthoritativeTimeout: 500 * time.Millisecond,
		HeuristicTimeout:     5 * time.Second,
		DefaultTimeout:       15 * time.Second,
		WaitingAfter:         4 * time.Second,
		Ceiling:              90 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.AuthoritativeTimeout <= 0 {
		p.AuthoritativeTimeout = d.AuthoritativeTimeout
	}
	if p.HeuristicTimeout <= 0 {
		p.HeuristicTimeout = d.HeuristicTimeout
	}
	if p.DefaultTimeout <= 0 {
		p.DefaultTimeout = d.DefaultTimeout
	}
	if p.WaitingAfter <= 0 {
		p.WaitingAfter = d.WaitingAfter
	}
	if p.Ceiling <= 0 {
		p.Ceiling = d.Ceiling
	}
	return p
}

// Timeout picks the fallback delay for a session started with h.
func (p Policy) Timeout(h Hint) time.Duration {
	var d time.Duration
	switch {
	case h.URL == "":
		d = p.DefaultTimeout
	case h.Authoritative:
		d = p.AuthoritativeTimeout
	default:
		d = p.HeuristicTimeout
	}
	return min(d, p.Ceiling)
}

var decisiveCT = regexp.MustCompile(`(?i)mpegurl|video|mp4|dash`)

func extOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
}

// decisive reports whether an observation names a whole playable resource.
// Segment fetches never decide a session on their own.
func decisive(obs Observation) bool {
	switch extOf(obs.URL) {
	case "ts", "m4s", "aac", "vtt":
		return false
	case "m3u8", "mp4", "mkv", "webm", "mpd":
		return true
	}
	return decisiveCT.MatchString(obs.ContentType)
}

func usable(obs Observation) bool {
	return obs.URL != "" && (obs.Status == 0 || obs.Status < 400)
}
