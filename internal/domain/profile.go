package domain

import (
	"net/url"
	"strings"
)

// StorageStats summarises the finished downloads of one scope.
type StorageStats struct {
	TotalBytes int64 `json:"totalBytes"`
	Count      int   `json:"count"`
}

// SmartDefaults are the per-scope defaults applied to new downloads.
type SmartDefaults struct {
	SmartDownload bool `json:"smartDownload"`
	AutoDelete    bool `json:"autoDelete"`
}

// Scope groups items by the host of their anchor. An empty scope matches everything.
func Scope(anchor string) string {
	u, err := url.Parse(anchor)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// InScope reports whether the item belongs to scope.
func (it *Item) InScope(scope string) bool {
	return scope == "" || Scope(it.Anchor) == scope
}
