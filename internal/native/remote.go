package native

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/utils"
)

// Remote talks to another siphon server over its HTTP API.
type Remote struct {
	client utils.HTTPDoer
	base   string
}

func NewRemote(client utils.HTTPDoer, baseURL string) *Remote {
	return &Remote{client: client, base: strings.TrimRight(baseURL, "/")}
}

type idResponse struct {
	ID string `json:"id"`
}

type quotaBody struct {
	QuotaBytes int64 `json:"quotaBytes"`
}

func (r *Remote) endpoint(path, scope string) string {
	u := r.base + path
	if scope != "" {
		u += "?scope=" + url.QueryEscape(scope)
	}
	return u
}

func (r *Remote) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("error reaching native backend: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("native backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding native backend response: %w", err)
	}
	return nil
}

func (r *Remote) Start(ctx context.Context, payload domain.Item) (string, error) {
	var out idResponse
	if err := r.do(ctx, http.MethodPost, r.base+"/api/items", payload, &out); err != nil {
		return "", err
	}
	log.Debug().Str("op", "native/remote").Str("id", out.ID).Msgf("Started %s on %s", payload.Anchor, r.base)
	return out.ID, nil
}

func (r *Remote) itemAction(ctx context.Context, id, action string) error {
	return r.do(ctx, http.MethodPost, r.base+"/api/items/"+url.PathEscape(id)+"/"+action, nil, nil)
}

func (r *Remote) Pause(ctx context.Context, id string) error  { return r.itemAction(ctx, id, "pause") }
func (r *Remote) Resume(ctx context.Context, id string) error { return r.itemAction(ctx, id, "resume") }
func (r *Remote) Cancel(ctx context.Context, id string) error { return r.itemAction(ctx, id, "cancel") }

func (r *Remote) Delete(ctx context.Context, id string) error {
	return r.do(ctx, http.MethodDelete, r.base+"/api/items/"+url.PathEscape(id), nil, nil)
}

func (r *Remote) List(ctx context.Context, scope string) ([]domain.Item, error) {
	var items []domain.Item
	err := r.do(ctx, http.MethodGet, r.endpoint("/api/items", scope), nil, &items)
	return items, err
}

func (r *Remote) StorageStats(ctx context.Context, scope string) (domain.StorageStats, error) {
	var stats domain.StorageStats
	err := r.do(ctx, http.MethodGet, r.endpoint("/api/stats", scope), nil, &stats)
	return stats, err
}

func (r *Remote) Quota(ctx context.Context, scope string) (int64, error) {
	var q quotaBody
	err := r.do(ctx, http.MethodGet, r.endpoint("/api/quota", scope), nil, &q)
	return q.QuotaBytes, err
}

func (r *Remote) SetQuota(ctx context.Context, scope string, quota int64) error {
	return r.do(ctx, http.MethodPut, r.endpoint("/api/quota", scope), quotaBody{QuotaBytes: quota}, nil)
}

func (r *Remote) SmartDefaults(ctx context.Context, scope string) (domain.SmartDefaults, error) {
	var d domain.SmartDefaults
	err := r.do(ctx, http.MethodGet, r.endpoint("/api/smart-defaults", scope), nil, &d)
	return d, err
}

func (r *Remote) SetSmartDefaults(ctx context.Context, scope string, d domain.SmartDefaults) error {
	return r.do(ctx, http.MethodPut, r.endpoint("/api/smart-defaults", scope), d, nil)
}
