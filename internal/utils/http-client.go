package utils

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

type HTTPClientConfig struct {
	Timeout       time.Duration
	KATimeout     time.Duration
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string
	UserAgent     string
	Headers       map[string]string
	// LargeBuffers dials with widened socket buffers for long segment runs.
	LargeBuffers bool
}

// HTTPDoer is what every fetching component needs from the shared client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type SiphonHTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

func NewSiphonHTTPClient(cfg HTTPClientConfig) *SiphonHTTPClient {
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		IdleConnTimeout:     cfg.KATimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		DisableCompression:  true,
	}
	if cfg.LargeBuffers {
		transport.DialContext = (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			Control: func(network, address string, c syscall.RawConn) error {
				var sockErr error
				if err := c.Control(func(fd uintptr) { sockErr = tuneSocket(fd) }); err != nil {
					return err
				}
				if sockErr != nil {
					log.Debug().Str("op", "utils/http").Msgf("Keeping default socket buffers: %v", sockErr)
				}
				return nil
			},
		}).DialContext
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	// Timeout stays zero unless configured: segment and manifest fetches rely on
	// cancellation rather than a client deadline.
	return &SiphonHTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config: cfg,
	}
}

// NewSiphonHTTPClientFrom wraps an existing *http.Client (httptest servers, custom transports).
func NewSiphonHTTPClientFrom(client *http.Client, cfg HTTPClientConfig) *SiphonHTTPClient {
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	return &SiphonHTTPClient{client: client, config: cfg}
}

// Intercept returns a copy of the client whose transport is wrapped by wrap.
func (d *SiphonHTTPClient) Intercept(wrap func(http.RoundTripper) http.RoundTripper) *SiphonHTTPClient {
	base := d.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	headers := make(map[string]string, len(d.config.Headers))
	for k, v := range d.config.Headers {
		headers[k] = v
	}
	cfg := d.config
	cfg.Headers = headers
	return &SiphonHTTPClient{
		client: &http.Client{
			Timeout:       d.client.Timeout,
			Transport:     wrap(base),
			CheckRedirect: d.client.CheckRedirect,
			Jar:           d.client.Jar,
		},
		config: cfg,
	}
}

func (d *SiphonHTTPClient) SetHeader(key, value string) {
	d.config.Headers[key] = value
}

func (d *SiphonHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if d.config.UserAgent != "" {
		req.Header.Set("User-Agent", d.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", "Siphon-CLI")
	}
	for k, v := range d.config.Headers {
		req.Header.Set(k, v)
	}
	return d.client.Do(req)
}

// Get issues a context-bound GET through any HTTPDoer.
func Get(ctx context.Context, client HTTPDoer, rawURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return client.Do(req)
}
