package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tanq16/siphon/internal/probe"
	"github.com/tanq16/siphon/internal/transport"
	"github.com/tanq16/siphon/internal/utils"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "siphon.yaml"

type Config struct {
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Root      string          `mapstructure:"root" yaml:"root"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	Probe     ProbeConfig     `mapstructure:"probe" yaml:"probe"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Bus       BusConfig       `mapstructure:"bus" yaml:"bus"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Scan      ScanConfig      `mapstructure:"scan" yaml:"scan"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type StoreConfig struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

type HTTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	KeepAlive     time.Duration `mapstructure:"keepalive" yaml:"keepalive"`
	Proxy         string        `mapstructure:"proxy" yaml:"proxy"`
	ProxyUsername string        `mapstructure:"proxy_username" yaml:"proxy_username"`
	ProxyPassword string        `mapstructure:"proxy_password" yaml:"proxy_password"`
	UserAgent     string        `mapstructure:"user_agent" yaml:"user_agent"`
	Headers       []string      `mapstructure:"headers" yaml:"headers"`
	LargeBuffers  bool          `mapstructure:"large_buffers" yaml:"large_buffers"`
}

type ProbeConfig struct {
	AuthoritativeTimeout time.Duration `mapstructure:"authoritative_timeout" yaml:"authoritative_timeout"`
	HeuristicTimeout     time.Duration `mapstructure:"heuristic_timeout" yaml:"heuristic_timeout"`
	DefaultTimeout       time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	WaitingAfter         time.Duration `mapstructure:"waiting_after" yaml:"waiting_after"`
	Ceiling              time.Duration `mapstructure:"ceiling" yaml:"ceiling"`
}

type TransportConfig struct {
	DASHMaxBytes       int64         `mapstructure:"dash_max_bytes" yaml:"dash_max_bytes"`
	DASHMaxSegments    int           `mapstructure:"dash_max_segments" yaml:"dash_max_segments"`
	TemplateSegmentCap int           `mapstructure:"template_segment_cap" yaml:"template_segment_cap"`
	ProgressInterval   time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`
}

type BusConfig struct {
	DedupWindow  time.Duration `mapstructure:"dedup_window" yaml:"dedup_window"`
	BridgeFile   string        `mapstructure:"bridge_file" yaml:"bridge_file"`
	RingSize     int           `mapstructure:"ring_size" yaml:"ring_size"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ParentURL    string        `mapstructure:"parent_url" yaml:"parent_url"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	// Native points at another siphon server that owns transfers when reachable.
	Native string `mapstructure:"native" yaml:"native"`
}

type ScanConfig struct {
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	Debounce  time.Duration `mapstructure:"debounce" yaml:"debounce"`
	WatchFile string        `mapstructure:"watch_file" yaml:"watch_file"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

func setDefaults(v *viper.Viper) {
	p := probe.DefaultPolicy()
	t := transport.DefaultPolicy()
	v.SetDefault("store.sqlite_path", defaultDataPath("siphon.db"))
	v.SetDefault("root", "")
	v.SetDefault("http.timeout", time.Duration(0))
	v.SetDefault("http.keepalive", 60*time.Second)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.large_buffers", true)
	v.SetDefault("probe.authoritative_timeout", p.AuthoritativeTimeout)
	v.SetDefault("probe.heuristic_timeout", p.HeuristicTimeout)
	v.SetDefault("probe.default_timeout", p.DefaultTimeout)
	v.SetDefault("probe.waiting_after", p.WaitingAfter)
	v.SetDefault("probe.ceiling", p.Ceiling)
	v.SetDefault("transport.dash_max_bytes", t.DASHMaxBytes)
	v.SetDefault("transport.dash_max_segments", t.DASHMaxSegments)
	v.SetDefault("transport.template_segment_cap", t.TemplateSegmentCap)
	v.SetDefault("transport.progress_interval", t.ProgressInterval)
	v.SetDefault("bus.dedup_window", 5*time.Second)
	v.SetDefault("bus.bridge_file", defaultDataPath("bridge.json"))
	v.SetDefault("bus.ring_size", 64)
	v.SetDefault("bus.poll_interval", 250*time.Millisecond)
	v.SetDefault("server.listen", "127.0.0.1:8466")
	v.SetDefault("scan.interval", 4*time.Second)
	v.SetDefault("scan.debounce", 120*time.Millisecond)
	v.SetDefault("log.level", "info")
}

func defaultDataPath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return name
	}
	return dir + string(os.PathSeparator) + "siphon" + string(os.PathSeparator) + name
}

// Load reads path (or DefaultFile when empty and present), applies SIPHON_
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	return load(v, path)
}

// LoadWith is Load on a caller-owned viper instance, so command flags bound
// to it take precedence over the file.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	return load(v, path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	v.SetEnvPrefix("SIPHON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Store.SQLitePath == "" {
		return errors.New("store.sqlite_path is required")
	}
	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("http.timeout must not be negative, got %s", c.HTTP.Timeout)
	}
	if c.HTTP.KeepAlive <= 0 {
		c.HTTP.KeepAlive = 60 * time.Second
	}
	if c.Probe.Ceiling > 0 && c.Probe.DefaultTimeout > c.Probe.Ceiling {
		return fmt.Errorf("probe.default_timeout (%s) exceeds probe.ceiling (%s)", c.Probe.DefaultTimeout, c.Probe.Ceiling)
	}
	if c.Transport.DASHMaxBytes < 0 || c.Transport.DASHMaxSegments < 0 || c.Transport.TemplateSegmentCap < 0 {
		return errors.New("transport ceilings must not be negative")
	}
	if c.Transport.ProgressInterval < 0 {
		c.Transport.ProgressInterval = 0
	}
	if c.Bus.DedupWindow <= 0 {
		c.Bus.DedupWindow = 5 * time.Second
	}
	if c.Bus.RingSize <= 0 {
		c.Bus.RingSize = 64
	}
	if c.Bus.PollInterval <= 0 {
		c.Bus.PollInterval = 250 * time.Millisecond
	}
	if c.Scan.Interval <= 0 {
		c.Scan.Interval = 4 * time.Second
	}
	if c.Scan.Debounce <= 0 {
		c.Scan.Debounce = 120 * time.Millisecond
	}
	for _, h := range c.HTTP.Headers {
		if !strings.Contains(h, ":") {
			return fmt.Errorf("http.headers entry %q is not in Key: Value form", h)
		}
	}
	return nil
}

// HTTPClient builds the shared client options. A user agent of "randomize"
// picks one from the built-in list.
func (c *Config) HTTPClient() utils.HTTPClientConfig {
	ua := c.HTTP.UserAgent
	if ua == "randomize" {
		ua = utils.GetRandomUserAgent()
	}
	return utils.HTTPClientConfig{
		Timeout:       c.HTTP.Timeout,
		KATimeout:     c.HTTP.KeepAlive,
		ProxyURL:      c.HTTP.Proxy,
		ProxyUsername: c.HTTP.ProxyUsername,
		ProxyPassword: c.HTTP.ProxyPassword,
		UserAgent:     ua,
		Headers:       utils.ParseHeaderArgs(c.HTTP.Headers),
		LargeBuffers:  c.HTTP.LargeBuffers,
	}
}

func (c *Config) ProbePolicy() probe.Policy {
	return probe.Policy{
		AuthoritativeTimeout: c.Probe.AuthoritativeTimeout,
		HeuristicTimeout:     c.Probe.HeuristicTimeout,
		DefaultTimeout:       c.Probe.DefaultTimeout,
		WaitingAfter:         c.Probe.WaitingAfter,
		Ceiling:              c.Probe.Ceiling,
	}
}

func (c *Config) TransportPolicy() transport.Policy {
	p := transport.DefaultPolicy()
	p.DASHMaxBytes = c.Transport.DASHMaxBytes
	p.DASHMaxSegments = c.Transport.DASHMaxSegments
	p.TemplateSegmentCap = c.Transport.TemplateSegmentCap
	p.ProgressInterval = c.Transport.ProgressInterval
	return p
}
