package ui

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tanq16/siphon/internal/bus"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/output"
)

type fakeAdapter struct {
	mu       sync.Mutex
	offered  []Candidate
	rendered []domain.Item
	forgot   []string
}

func (f *fakeAdapter) Offer(c Candidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offered = append(f.offered, c)
}

func (f *fakeAdapter) Render(item domain.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rendered = append(f.rendered, item)
}

func (f *fakeAdapter) Forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgot = append(f.forgot, id)
}

func TestViewAppliesEachEventOnce(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{}
	v := NewView(adapter, nil)
	item := domain.Item{ID: "a", Anchor: "#/watch/1", Title: "Pilot", Status: domain.StatusInitiated, CreatedAt: time.Now()}

	events := []bus.Message{
		{Type: bus.TypeInit, ID: "a", Payload: &item},
		{Type: bus.TypeProgress, ID: "a", BytesReceived: 100, Size: 400, Progress: 25},
		{Type: bus.TypeProgress, ID: "a", BytesReceived: 300, Size: 400, Progress: 75},
		{Type: bus.TypeComplete, ID: "a", Size: 400, FileName: "Pilot.mp4"},
	}
	// Every event arrives over two paths, the second copy late.
	for _, msg := range events {
		v.Handle(ctx, msg)
	}
	for _, msg := range events {
		v.Handle(ctx, msg)
	}
	v.Handle(ctx, bus.Message{Type: bus.TypeProgress, ID: "a", BytesReceived: 350})

	if got := v.Mutations(); got != len(events) {
		t.Errorf("Mutations() = %d, want %d", got, len(events))
	}
	got, ok := v.Item("a")
	if !ok {
		t.Fatal("item missing from view")
	}
	if got.Status != domain.StatusCompleted || got.FileName != "Pilot.mp4" || got.Progress != 100 {
		t.Errorf("final item = %+v", got)
	}
	if len(adapter.rendered) != len(events) {
		t.Errorf("rendered %d times, want %d", len(adapter.rendered), len(events))
	}
	if adapter.rendered[1].Status != domain.StatusDownloading {
		t.Errorf("progress rendered status %s, want downloading", adapter.rendered[1].Status)
	}
	if msg, ok := v.Transfer("a"); !ok || msg.BytesReceived != 300 {
		t.Errorf("Transfer() = %+v, %v", msg, ok)
	}
}

func TestViewNeverLeavesTerminalState(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{}
	v := NewView(adapter, nil)
	item := domain.Item{ID: "a", Title: "Pilot", Status: domain.StatusInitiated, CreatedAt: time.Now()}
	v.Handle(ctx, bus.Message{Type: bus.TypeInit, ID: "a", Payload: &item})
	v.Handle(ctx, bus.Message{Type: bus.TypeComplete, ID: "a", Size: 400, FileName: "Pilot.mp4"})

	v.Handle(ctx, bus.Message{Type: bus.TypeFailed, ID: "a", Error: "id a belongs to a completed item"})
	v.Handle(ctx, bus.Message{Type: bus.TypeCancelled, ID: "a"})
	v.Handle(ctx, bus.Message{Type: bus.TypeProgress, ID: "a", BytesReceived: 500})

	got, _ := v.Item("a")
	if got.Status != domain.StatusCompleted || got.Error != "" || got.FileName != "Pilot.mp4" {
		t.Errorf("item after late events = %+v", got)
	}
	if n := v.Mutations(); n != 2 {
		t.Errorf("Mutations() = %d, want 2", n)
	}
	if len(adapter.rendered) != 2 {
		t.Errorf("rendered %d times, want 2", len(adapter.rendered))
	}
}

func TestViewListAndDelete(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{}
	v := NewView(adapter, nil)
	now := time.Now()
	v.Handle(ctx, bus.Message{Type: bus.TypeList, Nonce: "n1", Items: []domain.Item{
		{ID: "b", Status: domain.StatusCompleted, CreatedAt: now.Add(time.Second)},
		{ID: "a", Status: domain.StatusFailed, CreatedAt: now},
	}})
	items := v.Items()
	if len(items) != 2 || items[0].ID != "a" || items[1].ID != "b" {
		t.Fatalf("Items() = %+v", items)
	}
	v.Handle(ctx, bus.Message{Type: bus.TypeDelete, ID: "a"})
	if _, ok := v.Item("a"); ok {
		t.Error("deleted item still present")
	}
	if len(adapter.forgot) != 1 || adapter.forgot[0] != "a" {
		t.Errorf("forgot = %v", adapter.forgot)
	}
	v.Handle(ctx, bus.Message{Type: bus.TypeFailed, ID: "unknown", Error: "x"})
	if len(v.Items()) != 1 {
		t.Error("event for unknown item created an entry")
	}
}

func TestViewKeepsRootHandle(t *testing.T) {
	v := NewView(nil, nil)
	if _, ok := v.Root(); ok {
		t.Fatal("Root() reported a handle before any was announced")
	}
	h := domain.RootHandle{Scheme: domain.RootLocal, Location: "/srv/media"}
	v.Handle(context.Background(), bus.Message{Type: bus.TypeRootHandle, Nonce: "n", Handle: &h})
	got, ok := v.Root()
	if !ok || got.Location != "/srv/media" {
		t.Errorf("Root() = %+v, %v", got, ok)
	}
}

type staticSource struct {
	mu    sync.Mutex
	found []Candidate
	scans int
}

func (s *staticSource) set(c ...Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.found = c
}

func (s *staticSource) Scan(context.Context) ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	return append([]Candidate(nil), s.found...), nil
}

func TestScannerEmitsEachCandidateOnce(t *testing.T) {
	src := &staticSource{}
	src.set(Candidate{Href: "#/watch/1"}, Candidate{Href: "#/watch/2"}, Candidate{})
	s := NewScanner(src, time.Hour, time.Millisecond)
	ctx := context.Background()

	first, err := s.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 {
		t.Fatalf("first scan = %+v, want 2 candidates", first)
	}
	src.set(Candidate{Href: "#/watch/2"}, Candidate{Href: "#/watch/2", URL: "https://cdn.example/2.m3u8"})
	second, _ := s.Scan(ctx)
	if len(second) != 1 || second[0].URL == "" {
		t.Errorf("second scan = %+v, want only the new url variant", second)
	}
}

func TestScannerTriggerRescans(t *testing.T) {
	src := &staticSource{}
	s := NewScanner(src, time.Hour, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	emitted := make(chan Candidate, 4)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, func(c Candidate) { emitted <- c }) }()

	deadline := time.After(5 * time.Second)
	src.set(Candidate{Href: "#/watch/late"})
	for {
		s.Trigger()
		select {
		case c := <-emitted:
			if c.Href != "#/watch/late" {
				t.Errorf("emitted %+v", c)
			}
			cancel()
			<-done
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("triggered scan never emitted the candidate")
		}
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "candidates.yaml")
	src := FileSource{Path: path}
	found, err := src.Scan(context.Background())
	if err != nil || found != nil {
		t.Fatalf("missing file: %v, %v", found, err)
	}
	doc := "candidates:\n  - href: '#/watch/9'\n    title: Finale\n    episode: S1E9\n  - href: '#/watch/10'\n    url: https://cdn.example/10.mpd\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	found, err = src.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found[0].EpisodeInfo != "S1E9" || found[1].URL != "https://cdn.example/10.mpd" {
		t.Errorf("Scan() = %+v", found)
	}
	if err := os.WriteFile(path, []byte("candidates: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Scan(context.Background()); err == nil {
		t.Error("malformed file parsed without error")
	}
}

func TestFileSourceWatchTriggers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "candidates.yaml")
	src := FileSource{Path: path}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 16)
	go src.Watch(ctx, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	deadline := time.After(5 * time.Second)
	for {
		if err := os.WriteFile(path, []byte("candidates: []\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		select {
		case <-fired:
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("no trigger after writing the candidate file")
		}
	}
}

func TestPrompter(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("/srv/media\n\n-\nclip.mp4"), &out)
	root, err := p.RequestRoot(ctx)
	if err != nil || root != "/srv/media" {
		t.Fatalf("RequestRoot() = %q, %v", root, err)
	}
	name, _ := p.SaveAs(ctx, "Pilot.mp4")
	if name != "Pilot.mp4" {
		t.Errorf("empty answer gave %q, want suggestion", name)
	}
	name, _ = p.SaveAs(ctx, "Pilot.mp4")
	if name != "" {
		t.Errorf("\"-\" gave %q, want decline", name)
	}
	name, _ = p.SaveAs(ctx, "Pilot.mp4")
	if name != "clip.mp4" {
		t.Errorf("last line without newline gave %q", name)
	}
	root, err = p.RequestRoot(ctx)
	if err != nil || root != "" {
		t.Errorf("EOF gave %q, %v; want decline", root, err)
	}
	if !strings.Contains(out.String(), "Save as [Pilot.mp4]") {
		t.Errorf("prompt text missing: %q", out.String())
	}
}

func TestTerminalRendersThroughManager(t *testing.T) {
	var buf bytes.Buffer
	m := output.NewManager(&buf, false)
	var submitted []Candidate
	term := NewTerminal(m, func(c Candidate) { submitted = append(submitted, c) })
	v := NewView(term, nil)
	term.Attach(v)

	term.Offer(Candidate{Href: "#/watch/3", Title: "Third"})
	if len(submitted) != 1 || !strings.Contains(buf.String(), "Found Third") {
		t.Fatalf("offer not submitted or noted: %v %q", submitted, buf.String())
	}
	ctx := context.Background()
	item := domain.Item{ID: "x", Title: "Third", Status: domain.StatusInitiated}
	eta := 4.0
	v.Handle(ctx, bus.Message{Type: bus.TypeInit, ID: "x", Payload: &item})
	v.Handle(ctx, bus.Message{Type: bus.TypeProgress, ID: "x", BytesReceived: 10, Size: 40, Progress: 25, ETA: &eta, SegmentsDone: 1, SegmentsTotal: 4})
	row, ok := m.Row("x")
	if !ok || row.Status != domain.StatusDownloading || row.SegmentsTotal != 4 || row.ETA == nil {
		t.Fatalf("row = %+v, %v", row, ok)
	}
	v.Handle(ctx, bus.Message{Type: bus.TypeDelete, ID: "x"})
	if _, ok := m.Row("x"); ok {
		t.Error("row kept after delete")
	}
}
