package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/utils"
)

func fetchText(ctx context.Context, client utils.HTTPDoer, rawURL string) ([]byte, string, error) {
	resp, err := utils.Get(ctx, client, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("manifest %s returned status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("error reading manifest: %w", err)
	}
	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return body, finalURL, nil
}

func fetchSegment(ctx context.Context, client utils.HTTPDoer, segmentURL string) ([]byte, error) {
	resp, err := utils.Get(ctx, client, segmentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error downloading segment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("segment %s returned status %d", segmentURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading segment: %w", err)
	}
	return data, nil
}

func resolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	relURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(relURL).String(), nil
}

// segmentPlan is an ordered list of segment URLs to be fetched one after another.
type segmentPlan struct {
	urls []string
	// open is set when the list was expanded from a template and may overrun the real end.
	open bool
	// capped is set when the source declared more segments than the plan holds.
	capped bool
}

type stopRule func(received int64, done int) bool

// runSegments fetches the plan sequentially. A failed segment stops the transfer
// and keeps what was already received.
func runSegments(ctx context.Context, client utils.HTTPDoer, op string, plan segmentPlan, c *collector, stop stopRule) (*Result, error) {
	total := len(plan.urls)
	c.result.SegmentTotal = total
	for i, segURL := range plan.urls {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		data, err := fetchSegment(ctx, client, segURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if c.result.Segments == 0 {
				return nil, domain.Fail(domain.ErrTransport, op, err)
			}
			if !plan.open {
				c.result.Partial = true
				c.result.Cause = err
			}
			logSegmentStop(op, i, total, err, plan.open)
			break
		}
		if err := c.write(data); err != nil {
			return nil, domain.Fail(domain.ErrTransport, op, err)
		}
		c.result.Segments++
		c.report(Progress{BytesReceived: c.result.Bytes, SegmentIndex: c.result.Segments, SegmentTotal: total})
		if stop != nil && stop(c.result.Bytes, c.result.Segments) {
			c.result.Capped = true
			break
		}
	}
	if c.result.Segments == 0 {
		return nil, domain.Fail(domain.ErrTransport, op, fmt.Errorf("no segments fetched"))
	}
	if plan.capped {
		c.result.Capped = true
	}
	return c.result, nil
}

func logSegmentStop(op string, index, total int, err error, open bool) {
	if open {
		log.Debug().Str("op", op).Msgf("Template ended at segment %d of %d: %v", index+1, total, err)
		return
	}
	log.Warn().Str("op", op).Msgf("Segment %d of %d failed, keeping partial result: %v", index+1, total, err)
}
