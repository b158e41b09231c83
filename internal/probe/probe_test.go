package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/utils"
)

type recorder struct {
	mu        sync.Mutex
	decisions []Decision
	phases    map[string][]string
	decided   chan Decision
}

func newRecorder() *recorder {
	return &recorder{phases: make(map[string][]string), decided: make(chan Decision, 16)}
}

func (r *recorder) decision(d Decision) {
	r.mu.Lock()
	r.decisions = append(r.decisions, d)
	r.mu.Unlock()
	r.decided <- d
}

func (r *recorder) phase(id, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases[id] = append(r.phases[id], phase)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.decisions)
}

func (r *recorder) wait(t *testing.T) Decision {
	t.Helper()
	select {
	case d := <-r.decided:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no decision")
	}
	return Decision{}
}

func testEngine(rec *recorder, policy Policy, opener Opener) *Engine {
	return NewEngine(Options{Policy: policy, Opener: opener, OnDecision: rec.decision, OnPhase: rec.phase})
}

func TestPolicyTimeout(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		hint Hint
		want time.Duration
	}{
		{Hint{}, 15 * time.Second},
		{Hint{URL: "https://cdn.example/a.mp4"}, 5 * time.Second},
		{Hint{URL: "https://cdn.example/a.mp4", Authoritative: true}, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.Timeout(tt.hint); got != tt.want {
			t.Errorf("Timeout(%+v) = %s, want %s", tt.hint, got, tt.want)
		}
	}
}

func TestAttributionIsFIFO(t *testing.T) {
	rec := newRecorder()
	e := testEngine(rec, Policy{DefaultTimeout: time.Minute}, nil)
	defer e.Close()

	for _, id := range []string{"first", "second"} {
		if _, err := e.Begin(id, "#/player/"+id, Hint{}); err != nil {
			t.Fatalf("Begin(%s): %v", id, err)
		}
	}
	if _, err := e.Begin("first", "#/player/first", Hint{}); err == nil {
		t.Error("second Begin for a pending item should fail")
	}

	id, ok := e.Attribute(Observation{URL: "https://cdn.example/one/master.m3u8", Status: 200})
	if !ok || id != "first" {
		t.Fatalf("first attribution went to %q (%v)", id, ok)
	}
	if d := rec.wait(t); d.Session.ItemID != "first" || !d.Discovered || d.URL != "https://cdn.example/one/master.m3u8" {
		t.Errorf("decision = %+v", d)
	}
	id, ok = e.Attribute(Observation{URL: "https://cdn.example/two/file", ContentType: "video/mp4", Status: 200})
	if !ok || id != "second" {
		t.Fatalf("second attribution went to %q (%v)", id, ok)
	}
	rec.wait(t)
	if _, ok := e.Attribute(Observation{URL: "https://cdn.example/three.mp4"}); ok {
		t.Error("attribution without pending sessions should be ignored")
	}
}

func TestSegmentsDoNotDecide(t *testing.T) {
	rec := newRecorder()
	e := testEngine(rec, Policy{DefaultTimeout: 50 * time.Millisecond}, nil)
	defer e.Close()

	if _, err := e.Begin("item", "", Hint{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.Attribute(Observation{URL: "https://cdn.example/seg-1.ts", ContentType: "video/mp2t", Status: 200}); ok {
		t.Error("a segment must not decide a session")
	}
	if _, ok := e.Attribute(Observation{URL: "https://cdn.example/blob?id=4", ContentType: "application/octet-stream", Status: 200}); ok {
		t.Error("an octet-stream response is a candidate, not a decision")
	}
	if _, ok := e.Attribute(Observation{URL: "https://cdn.example/gone.mp4", Status: 404}); ok {
		t.Error("failed responses must be ignored")
	}
	d := rec.wait(t)
	if d.Err != nil || d.Discovered || d.URL != "https://cdn.example/blob?id=4" {
		t.Errorf("fallback decision = %+v", d)
	}
}

func TestTimeoutUsesHint(t *testing.T) {
	rec := newRecorder()
	e := testEngine(rec, Policy{AuthoritativeTimeout: 20 * time.Millisecond}, nil)
	defer e.Close()

	if _, err := e.Begin("item", "", Hint{URL: "https://cdn.example/direct.mp4", Authoritative: true}); err != nil {
		t.Fatal(err)
	}
	d := rec.wait(t)
	if d.Err != nil || d.URL != "https://cdn.example/direct.mp4" {
		t.Errorf("decision = %+v", d)
	}
	rec.mu.Lock()
	phases := rec.phases["item"]
	rec.mu.Unlock()
	if len(phases) < 2 || phases[0] != PhaseProbing || phases[len(phases)-1] != PhaseTimeout {
		t.Errorf("phases = %v", phases)
	}
}

func TestTimeoutWithoutCandidateIsClassificationFailure(t *testing.T) {
	rec := newRecorder()
	e := testEngine(rec, Policy{DefaultTimeout: 20 * time.Millisecond}, nil)
	defer e.Close()

	if _, err := e.Begin("item", "", Hint{}); err != nil {
		t.Fatal(err)
	}
	d := rec.wait(t)
	if !errors.Is(d.Err, domain.ErrProbeTimeout) || domain.Classify(d.Err) != domain.ErrClassification {
		t.Errorf("decision error = %v", d.Err)
	}
}

func TestExactlyOneDecision(t *testing.T) {
	rec := newRecorder()
	e := testEngine(rec, Policy{DefaultTimeout: 30 * time.Millisecond}, nil)
	defer e.Close()

	if _, err := e.Begin("item", "", Hint{}); err != nil {
		t.Fatal(err)
	}
	e.Attribute(Observation{URL: "https://cdn.example/a.mpd", Status: 200})
	rec.wait(t)
	time.Sleep(80 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Errorf("got %d decisions, want 1", n)
	}
}

func TestAbandonMakesNoDecision(t *testing.T) {
	rec := newRecorder()
	e := testEngine(rec, Policy{DefaultTimeout: 20 * time.Millisecond}, nil)
	defer e.Close()

	if _, err := e.Begin("item", "", Hint{}); err != nil {
		t.Fatal(err)
	}
	if !e.Abandon("item") {
		t.Fatal("Abandon reported no session")
	}
	if e.Abandon("item") {
		t.Error("second Abandon should report false")
	}
	time.Sleep(60 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Errorf("got %d decisions after abandon", n)
	}
}

type blockingOpener struct {
	mu      sync.Mutex
	opened  []string
	started chan string
	closed  chan string
}

func (b *blockingOpener) Open(ctx context.Context, anchor string) error {
	b.mu.Lock()
	b.opened = append(b.opened, anchor)
	b.mu.Unlock()
	b.started <- anchor
	<-ctx.Done()
	b.closed <- anchor
	return ctx.Err()
}

func TestHiddenContextIsSharedAndTornDown(t *testing.T) {
	rec := newRecorder()
	opener := &blockingOpener{started: make(chan string, 4), closed: make(chan string, 4)}
	e := testEngine(rec, Policy{DefaultTimeout: time.Minute}, opener)
	defer e.Close()

	e.Begin("a", "https://host.example/watch/1", Hint{})
	e.Begin("b", "https://host.example/watch/1", Hint{})
	<-opener.started

	e.Attribute(Observation{URL: "https://cdn.example/1.m3u8"})
	rec.wait(t)
	select {
	case <-opener.closed:
		t.Fatal("context torn down while another session still uses it")
	case <-time.After(30 * time.Millisecond):
	}
	e.Attribute(Observation{URL: "https://cdn.example/2.m3u8"})
	rec.wait(t)
	select {
	case <-opener.closed:
	case <-time.After(time.Second):
		t.Fatal("context not torn down after the last decision")
	}
	opener.mu.Lock()
	defer opener.mu.Unlock()
	if len(opener.opened) != 1 {
		t.Errorf("opened %d contexts, want 1", len(opener.opened))
	}
}

func TestSandboxTriggersPlayerRequests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head>
<script type="application/ld+json">{"ignored": true}</script>
<script src="/player.js"></script>
</head><body>
<video id="main" muted><source src="/trailer.mp4" type="video/mp4"></video>
<script>
var xhr = new XMLHttpRequest();
xhr.open('GET', '/config');
xhr.onload = function () { window.configLoaded = JSON.parse(xhr.responseText).ok; };
xhr.send();
</script>
</body></html>`)
	})
	mux.HandleFunc("/player.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		fmt.Fprint(w, `
fetch('/api/source').then(function (r) { return r.json(); }).then(function (j) {
  var v = document.createElement('video');
  v.src = j.stream;
  document.body.appendChild(v);
});`)
	})
	mux.HandleFunc("/api/source", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"stream": "/hls/master.m3u8"}`)
	})
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true}`)
	})
	mux.HandleFunc("/hls/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		fmt.Fprint(w, "#EXTM3U\n")
	})
	mux.HandleFunc("/trailer.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte{0, 0})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var mu sync.Mutex
	seen := make(map[string]int)
	client := utils.NewSiphonHTTPClientFrom(srv.Client(), utils.HTTPClientConfig{}).Intercept(Intercept("sandbox", func(obs Observation) {
		mu.Lock()
		defer mu.Unlock()
		seen[obs.URL]++
	}))
	if err := NewSandbox(client, "").Open(context.Background(), srv.URL+"/watch"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, want := range []string{srv.URL + "/hls/master.m3u8", srv.URL + "/trailer.mp4"} {
		if seen[want] != 1 {
			t.Errorf("observed %s %d times, want 1 (seen %v)", want, seen[want], seen)
		}
	}
	if _, ok := seen[srv.URL+"/config"]; ok {
		t.Error("non-media responses must not be reported")
	}
}

func TestSandboxStopsWithContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><script>while (true) {}</script></html>`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := NewSandbox(srv.Client(), "").Open(ctx, srv.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestSandboxRejectsOpaqueAnchor(t *testing.T) {
	if err := NewSandbox(http.DefaultClient, "").Open(context.Background(), "#/player/abc"); err == nil {
		t.Error("expected an error for a non-addressable anchor")
	}
}
