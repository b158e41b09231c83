package domain

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

const (
	RootLocal = "file"
	RootS3    = "s3"
)

// RootHandle is the persisted form of the user-granted write capability.
// It is never put on the bridge path of the bus.
type RootHandle struct {
	Scheme    string    `json:"scheme"`
	Location  string    `json:"location"`
	GrantedAt time.Time `json:"grantedAt,omitzero"`
}

func (h RootHandle) String() string {
	if h.Scheme == RootS3 {
		return "s3://" + h.Location
	}
	return h.Location
}

func (h RootHandle) IsZero() bool {
	return h.Location == ""
}

// ParseRootHandle accepts a local directory or an s3://bucket/prefix location.
func ParseRootHandle(loc string) (RootHandle, error) {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return RootHandle{}, fmt.Errorf("empty root location")
	}
	if strings.HasPrefix(loc, "s3://") {
		u, err := url.Parse(loc)
		if err != nil {
			return RootHandle{}, fmt.Errorf("invalid s3 location: %w", err)
		}
		if u.Host == "" {
			return RootHandle{}, fmt.Errorf("s3 location %q has no bucket", loc)
		}
		return RootHandle{Scheme: RootS3, Location: u.Host + u.Path}, nil
	}
	abs, err := filepath.Abs(loc)
	if err != nil {
		return RootHandle{}, fmt.Errorf("invalid root directory: %w", err)
	}
	return RootHandle{Scheme: RootLocal, Location: abs}, nil
}
