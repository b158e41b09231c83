package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "siphon.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Probe.DefaultTimeout != 15*time.Second || cfg.Probe.AuthoritativeTimeout != 500*time.Millisecond {
		t.Errorf("probe defaults = %+v", cfg.Probe)
	}
	if cfg.Bus.DedupWindow != 5*time.Second || cfg.Bus.RingSize != 64 {
		t.Errorf("bus defaults = %+v", cfg.Bus)
	}
	if cfg.Scan.Interval != 4*time.Second || cfg.Scan.Debounce != 120*time.Millisecond {
		t.Errorf("scan defaults = %+v", cfg.Scan)
	}
	if cfg.Transport.DASHMaxSegments != 400 {
		t.Errorf("DASHMaxSegments = %d", cfg.Transport.DASHMaxSegments)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
store:
  sqlite_path: /tmp/items.db
root: /srv/media
http:
  user_agent: randomize
  headers:
    - "Referer: https://example.com"
probe:
  default_timeout: 20s
transport:
  progress_interval: 250ms
`)
	t.Setenv("SIPHON_SERVER_LISTEN", "0.0.0.0:9000")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.SQLitePath != "/tmp/items.db" || cfg.Root != "/srv/media" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Server.Listen != "0.0.0.0:9000" {
		t.Errorf("env override missed: %q", cfg.Server.Listen)
	}
	if cfg.ProbePolicy().DefaultTimeout != 20*time.Second {
		t.Errorf("probe policy = %+v", cfg.ProbePolicy())
	}
	if cfg.TransportPolicy().ProgressInterval != 250*time.Millisecond {
		t.Errorf("transport policy = %+v", cfg.TransportPolicy())
	}
	hc := cfg.HTTPClient()
	if hc.UserAgent == "" || hc.UserAgent == "randomize" {
		t.Errorf("user agent not randomized: %q", hc.UserAgent)
	}
	if hc.Headers["Referer"] != "https://example.com" {
		t.Errorf("headers = %v", hc.Headers)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"ceiling":  "probe:\n  default_timeout: 2m\n  ceiling: 1m\n",
		"negative": "transport:\n  dash_max_segments: -1\n",
		"header":   "http:\n  headers: [\"no separator\"]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Error("Load accepted invalid config")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("explicit missing file: %v", err)
	}
}

func TestLoadWithFlagOverride(t *testing.T) {
	path := writeConfig(t, "http:\n  proxy: http://file-proxy:3128\n")
	v := viper.New()
	v.Set("http.proxy", "http://flag-proxy:8080")
	cfg, err := LoadWith(v, path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTP.Proxy != "http://flag-proxy:8080" {
		t.Errorf("proxy = %q, want flag value", cfg.HTTP.Proxy)
	}
}
