package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tanq16/siphon/internal/domain"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) handle(_ context.Context, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Type
	}
	return out
}

type failingSender struct{ name string }

func (f failingSender) Name() string                        { return f.name }
func (f failingSender) Send(context.Context, Message) error { return errors.New("unreachable") }

func TestPublishDeliversOncePerLogicalEvent(t *testing.T) {
	ctx := context.Background()
	local := NewLocal()
	attr := NewMemoryAttribute(0)
	b := New(local, NewBridge(attr))

	rec := &recorder{}
	view := Filter(NewDeduper(0), rec.handle)
	local.Subscribe(view)
	poller := NewPoller(attr, time.Millisecond, view)
	if _, err := poller.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	events := []Message{
		{Type: TypeInit, ID: "a"},
		{Type: TypeProgress, ID: "a", BytesReceived: 10},
		{Type: TypeProgress, ID: "a", BytesReceived: 20},
		{Type: TypeComplete, ID: "a", FileName: "a.mp4"},
		{Type: TypeProgress, ID: "a", BytesReceived: 30},
	}
	for _, m := range events {
		if err := b.Publish(ctx, m); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	n, err := poller.Poll(ctx)
	if err != nil || n != len(events) {
		t.Fatalf("Poll = %d, %v", n, err)
	}
	want := []Type{TypeInit, TypeProgress, TypeProgress, TypeComplete}
	got := rec.types()
	if len(got) != len(want) {
		t.Fatalf("delivered %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivered[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestIDLessMessagesDedupByNonce(t *testing.T) {
	ctx := context.Background()
	local := NewLocal()
	parentRec := &recorder{}
	d := NewDeduper(0)
	rec := &recorder{}
	local.Subscribe(Filter(d, rec.handle))
	b := New(local, NewParentFunc(Filter(d, rec.handle)), NewParentFunc(parentRec.handle))

	b.Publish(ctx, Message{Type: TypeListRequest})
	b.Publish(ctx, Message{Type: TypeListRequest})
	if got := len(rec.types()); got != 2 {
		t.Errorf("distinct list requests delivered %d times, want 2", got)
	}
	if got := len(parentRec.types()); got != 2 {
		t.Errorf("unfiltered parent saw %d, want 2", got)
	}
}

func TestDebugPhasesAreDistinctEvents(t *testing.T) {
	d := NewDeduper(0)
	for _, phase := range []string{"probing", "probing-waiting", "probing"} {
		d.Accept(Message{Type: TypeDebug, ID: "x", Phase: phase})
	}
	if d.Accept(Message{Type: TypeDebug, ID: "x", Phase: "probe-timeout"}) != true {
		t.Error("new phase rejected")
	}
	if d.Accept(Message{Type: TypeDebug, ID: "x", Phase: "probing"}) {
		t.Error("repeated phase accepted")
	}
}

func TestDedupWindowExpires(t *testing.T) {
	d := NewDeduper(time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	req := Message{Type: TypeRequest, ID: "r1"}
	if !d.Accept(req) {
		t.Fatal("first request rejected")
	}
	now = now.Add(500 * time.Millisecond)
	if d.Accept(req) {
		t.Error("duplicate inside window accepted")
	}
	now = now.Add(2 * time.Second)
	if !d.Accept(req) {
		t.Error("request after window rejected")
	}
}

func TestDedupForgetsFinishedItems(t *testing.T) {
	d := NewDeduper(time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	for i := range 50 {
		id := fmt.Sprintf("item-%d", i)
		d.Accept(Message{Type: TypeProgress, ID: id, BytesReceived: 10})
		d.Accept(Message{Type: TypeComplete, ID: id})
	}
	if d.Accept(Message{Type: TypeProgress, ID: "item-0", BytesReceived: 20}) {
		t.Error("progress after terminal event accepted inside window")
	}
	now = now.Add(2 * time.Second)
	d.Accept(Message{Type: TypeListRequest})
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.progress) != 0 || len(d.finished) != 0 {
		t.Errorf("finished items still tracked: progress=%d finished=%d", len(d.progress), len(d.finished))
	}
}

func TestBridgeNeverCarriesCapabilities(t *testing.T) {
	ctx := context.Background()
	attr := NewMemoryAttribute(0)
	bridge := NewBridge(attr)
	if err := bridge.Send(ctx, Message{Type: TypeRootHandle, Handle: &domain.RootHandle{Scheme: domain.RootLocal, Location: "/tmp"}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := bridge.Send(ctx, Message{Type: TypeComplete, ID: "a", ResultHandle: []byte("bytes")}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	envs, _ := attr.Since(0)
	if len(envs) != 1 {
		t.Fatalf("bridged %d envelopes, want 1", len(envs))
	}
	if envs[0].Message.Type != TypeComplete || envs[0].Message.ResultHandle != nil {
		t.Errorf("bridged %+v", envs[0].Message)
	}
	if envs[0].ID == "" || envs[0].Seq != 1 {
		t.Errorf("envelope = %+v", envs[0])
	}
}

func TestPublishFailsOnlyWhenEveryPathFails(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	b := New(failingSender{"parent"}, NewParentFunc(rec.handle))
	if err := b.Publish(ctx, Message{Type: TypeInit, ID: "a"}); err != nil {
		t.Errorf("Publish with one live path = %v", err)
	}
	b = New(failingSender{"parent"}, failingSender{"bridge"})
	if err := b.Publish(ctx, Message{Type: TypeInit, ID: "a"}); err == nil {
		t.Error("Publish with no live path returned nil")
	}
}

func TestParentHTTP(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewParentHTTP(srv.Client(), srv.URL)
	msg := Message{Type: TypeProgress, ID: "a", BytesReceived: 42, ResultHandle: []byte("x")}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Type != TypeProgress || got.BytesReceived != 42 || got.ResultHandle != nil {
		t.Errorf("parent received %+v", got)
	}

	bad := NewParentHTTP(srv.Client(), srv.URL+"/missing")
	if err := bad.Send(context.Background(), msg); err == nil {
		t.Error("Send to 404 returned nil")
	}
}

func TestFileAttributeRing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge", "attr.json")
	attr, err := NewFileAttribute(path, 3)
	if err != nil {
		t.Fatalf("NewFileAttribute: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := attr.Append(Envelope{Message: Message{Type: TypeProgress, ID: "a", BytesReceived: int64(i + 1)}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	head, err := attr.Head()
	if err != nil || head != 5 {
		t.Fatalf("Head = %d, %v", head, err)
	}
	envs, err := attr.Since(0)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(envs) != 3 || envs[0].Seq != 3 || envs[2].Message.BytesReceived != 5 {
		t.Errorf("ring = %+v", envs)
	}

	other, _ := NewFileAttribute(path, 3)
	if envs, _ := other.Since(4); len(envs) != 1 || envs[0].Seq != 5 {
		t.Errorf("second reader saw %+v", envs)
	}
}

func TestPollerSkipsHistory(t *testing.T) {
	ctx := context.Background()
	attr := NewMemoryAttribute(0)
	attr.Append(Envelope{Message: Message{Type: TypeInit, ID: "old"}})
	rec := &recorder{}
	p := NewPoller(attr, 0, rec.handle)
	p.Poll(ctx)
	attr.Append(Envelope{Message: Message{Type: TypeInit, ID: "new"}})
	p.Poll(ctx)
	if len(rec.msgs) != 1 || rec.msgs[0].ID != "new" {
		t.Errorf("poller delivered %+v", rec.msgs)
	}
}
