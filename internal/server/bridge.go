package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/tanq16/siphon/internal/bus"
	"github.com/tanq16/siphon/internal/utils"
)

// RemoteAttribute reads a server's bridge attribute so another process can poll it.
type RemoteAttribute struct {
	client utils.HTTPDoer
	base   string
}

var _ bus.Attribute = (*RemoteAttribute)(nil)

func NewRemoteAttribute(client utils.HTTPDoer, baseURL string) *RemoteAttribute {
	return &RemoteAttribute{client: client, base: strings.TrimRight(baseURL, "/")}
}

func (r *RemoteAttribute) fetch(after uint64) (bridgeResponse, error) {
	var out bridgeResponse
	endpoint := r.base + "/api/bridge?after=" + strconv.FormatUint(after, 10)
	resp, err := utils.Get(context.Background(), r.client, endpoint, nil)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("bridge returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("error decoding bridge response: %w", err)
	}
	return out, nil
}

// Append is refused: only the owning process writes its bridge.
func (r *RemoteAttribute) Append(bus.Envelope) (bus.Envelope, error) {
	return bus.Envelope{}, fmt.Errorf("remote bridge is read-only: %w", errors.ErrUnsupported)
}

func (r *RemoteAttribute) Since(seq uint64) ([]bus.Envelope, error) {
	out, err := r.fetch(seq)
	return out.Envelopes, err
}

func (r *RemoteAttribute) Head() (uint64, error) {
	out, err := r.fetch(math.MaxUint64)
	return out.Head, err
}
