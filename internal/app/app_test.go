package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tanq16/siphon/internal/bus"
	"github.com/tanq16/siphon/internal/config"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/utils"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SIPHON_STORE_SQLITE_PATH", filepath.Join(dir, "siphon.db"))
	t.Setenv("SIPHON_BUS_BRIDGE_FILE", filepath.Join(dir, "bridge.json"))
	t.Setenv("SIPHON_ROOT", filepath.Join(dir, "media"))
	t.Setenv("SIPHON_TRANSPORT_PROGRESS_INTERVAL", "0s")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestContextDownloadsOverBus(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/clip.mp4" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		http.ServeContent(w, r, "clip.mp4", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	c, err := NewContext(cfg, Options{
		Client: utils.NewSiphonHTTPClientFrom(srv.Client(), utils.HTTPClientConfig{}),
		Bridge: bus.NewMemoryAttribute(0),
	})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer c.Close()
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, ok := c.Roots.Current(); !ok {
		t.Fatal("configured root was not applied")
	}

	done := make(chan bus.Message, 1)
	c.Subscribe(func(_ context.Context, msg bus.Message) {
		if msg.Type.Terminal() {
			select {
			case done <- msg:
			default:
			}
		}
	})
	if err := c.Send(ctx, bus.Message{Type: bus.TypeRequest, Href: srv.URL + "/clip.mp4", Title: "Clip"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var msg bus.Message
	select {
	case msg = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("no terminal event")
	}
	if msg.Type != bus.TypeComplete || msg.Size != int64(len(payload)) {
		t.Fatalf("terminal event = %+v", msg)
	}
	data, err := os.ReadFile(filepath.Join(cfg.Root, msg.FileName))
	if err != nil || !bytes.Equal(data, payload) {
		t.Errorf("stored file mismatch: %v", err)
	}
	items, err := c.Store.ListItems(ctx)
	if err != nil || len(items) != 1 || items[0].Status != domain.StatusCompleted {
		t.Errorf("stored items = %+v, %v", items, err)
	}
	head, _ := c.Bridge.Head()
	if head == 0 {
		t.Error("nothing was bridged")
	}
}
