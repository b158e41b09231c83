package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tanq16/siphon/internal/bus"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/native"
)

type fakeBackend struct {
	mu       sync.Mutex
	started  []domain.Item
	canceled []string
	deleted  []string
	quota    map[string]int64
	defaults domain.SmartDefaults
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{quota: make(map[string]int64)}
}

func (f *fakeBackend) Start(_ context.Context, payload domain.Item) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if payload.Anchor == "" && payload.RequestURL == "" {
		return "", domain.Fail(domain.ErrClassification, "test", errors.New("empty request"))
	}
	f.started = append(f.started, payload)
	return "item-1", nil
}

func (f *fakeBackend) Pause(context.Context, string) error  { return errors.ErrUnsupported }
func (f *fakeBackend) Resume(context.Context, string) error { return errors.ErrUnsupported }

func (f *fakeBackend) Cancel(_ context.Context, id string) error {
	if id != "item-1" {
		return domain.ErrNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
	return nil
}

func (f *fakeBackend) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBackend) List(_ context.Context, scope string) ([]domain.Item, error) {
	if scope == "empty.example" {
		return nil, nil
	}
	return []domain.Item{{ID: "item-1", Anchor: "https://" + scope + "/watch", Status: domain.StatusCompleted}}, nil
}

func (f *fakeBackend) StorageStats(context.Context, string) (domain.StorageStats, error) {
	return domain.StorageStats{TotalBytes: 2048, Count: 2}, nil
}

func (f *fakeBackend) Quota(_ context.Context, scope string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quota[scope], nil
}

func (f *fakeBackend) SetQuota(_ context.Context, scope string, q int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quota[scope] = q
	return nil
}

func (f *fakeBackend) SmartDefaults(context.Context, string) (domain.SmartDefaults, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.defaults, nil
}

func (f *fakeBackend) SetSmartDefaults(_ context.Context, _ string, d domain.SmartDefaults) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaults = d
	return nil
}

func TestBackendRoutesThroughRemote(t *testing.T) {
	backend := newFakeBackend()
	srv := httptest.NewServer(New(backend, nil, nil).Handler())
	defer srv.Close()
	remote := native.NewRemote(srv.Client(), srv.URL)
	ctx := context.Background()

	id, err := remote.Start(ctx, domain.Item{Anchor: "https://tv.example/watch/1", Title: "Pilot"})
	if err != nil || id != "item-1" {
		t.Fatalf("Start() = %q, %v", id, err)
	}
	if _, err := remote.Start(ctx, domain.Item{}); err == nil {
		t.Error("empty request accepted")
	}
	if err := remote.Cancel(ctx, "item-1"); err != nil {
		t.Errorf("Cancel: %v", err)
	}
	if err := remote.Cancel(ctx, "missing"); err == nil {
		t.Error("Cancel of unknown id succeeded")
	}
	if err := remote.Pause(ctx, "item-1"); err == nil {
		t.Error("Pause succeeded")
	}
	if err := remote.Delete(ctx, "item-1"); err != nil {
		t.Errorf("Delete: %v", err)
	}
	items, err := remote.List(ctx, "tv.example")
	if err != nil || len(items) != 1 || items[0].Status != domain.StatusCompleted {
		t.Errorf("List() = %+v, %v", items, err)
	}
	if items, err := remote.List(ctx, "empty.example"); err != nil || len(items) != 0 {
		t.Errorf("empty List() = %+v, %v", items, err)
	}
	stats, err := remote.StorageStats(ctx, "tv.example")
	if err != nil || stats.TotalBytes != 2048 || stats.Count != 2 {
		t.Errorf("StorageStats() = %+v, %v", stats, err)
	}
	if err := remote.SetQuota(ctx, "tv.example", 1<<30); err != nil {
		t.Fatalf("SetQuota: %v", err)
	}
	if q, _ := remote.Quota(ctx, "tv.example"); q != 1<<30 {
		t.Errorf("Quota() = %d", q)
	}
	if err := remote.SetQuota(ctx, "tv.example", -1); err == nil {
		t.Error("negative quota accepted")
	}
	if err := remote.SetSmartDefaults(ctx, "tv.example", domain.SmartDefaults{SmartDownload: true}); err != nil {
		t.Fatalf("SetSmartDefaults: %v", err)
	}
	if d, _ := remote.SmartDefaults(ctx, "tv.example"); !d.SmartDownload || d.AutoDelete {
		t.Errorf("SmartDefaults() = %+v", d)
	}
}

func TestPauseIsNotImplemented(t *testing.T) {
	srv := httptest.NewServer(New(newFakeBackend(), nil, nil).Handler())
	defer srv.Close()
	resp, err := srv.Client().Post(srv.URL+"/api/items/item-1/pause", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", resp.StatusCode)
	}
}

func TestMessagesEndpointIsParentPath(t *testing.T) {
	backend := newFakeBackend()
	var mu sync.Mutex
	var inbound []bus.Message
	handler := func(_ context.Context, msg bus.Message) {
		mu.Lock()
		defer mu.Unlock()
		inbound = append(inbound, msg)
	}
	srv := httptest.NewServer(New(backend, handler, nil).Handler())
	defer srv.Close()
	parent := bus.NewParentHTTP(srv.Client(), srv.URL+"/api/messages")
	ctx := context.Background()

	if err := parent.Send(ctx, bus.Message{Type: bus.TypeRequest, Href: "https://tv.example/watch/2", URL: "https://cdn.example/2.m3u8"}); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := parent.Send(ctx, bus.Message{Type: bus.TypeCancel, ID: "item-1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := parent.Send(ctx, bus.Message{Type: bus.TypeProgress, ID: "item-1"}); err == nil {
		t.Error("outbound event accepted as inbound message")
	}
	backend.mu.Lock()
	if len(backend.started) != 1 || backend.started[0].RequestURL != "https://cdn.example/2.m3u8" {
		t.Errorf("started = %+v", backend.started)
	}
	backend.mu.Unlock()
	mu.Lock()
	defer mu.Unlock()
	if len(inbound) != 1 || inbound[0].Type != bus.TypeCancel {
		t.Errorf("inbound = %+v", inbound)
	}
}

func TestBridgePolledOverHTTP(t *testing.T) {
	attr := bus.NewMemoryAttribute(0)
	b := bus.New(bus.NewBridge(attr))
	srv := httptest.NewServer(New(newFakeBackend(), nil, attr).Handler())
	defer srv.Close()
	ctx := context.Background()

	if err := b.Publish(ctx, bus.Message{Type: bus.TypeInit, ID: "old"}); err != nil {
		t.Fatal(err)
	}
	remote := NewRemoteAttribute(srv.Client(), srv.URL)
	got := make(chan bus.Message, 4)
	poller := bus.NewPoller(remote, time.Millisecond, func(_ context.Context, msg bus.Message) { got <- msg })
	if n, err := poller.Poll(ctx); err != nil || n != 0 {
		t.Fatalf("first Poll() = %d, %v; want history skipped", n, err)
	}
	if err := b.Publish(ctx, bus.Message{Type: bus.TypeComplete, ID: "new", FileName: "Pilot.mp4"}); err != nil {
		t.Fatal(err)
	}
	if n, err := poller.Poll(ctx); err != nil || n != 1 {
		t.Fatalf("second Poll() = %d, %v", n, err)
	}
	msg := <-got
	if msg.ID != "new" || msg.FileName != "Pilot.mp4" {
		t.Errorf("delivered %+v", msg)
	}
	if _, err := remote.Append(bus.Envelope{}); !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("Append() err = %v", err)
	}
}
