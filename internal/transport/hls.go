package transport

import (
	"bytes"
	"context"
	"fmt"

	"github.com/grafov/m3u8"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/domain"
)

const (
	ContentTypeTS   = "video/mp2t"
	ContentTypeFMP4 = "video/mp4"
)

type hlsStrategy struct {
	f *Fetcher
}

func (s *hlsStrategy) Fetch(ctx context.Context, req Request) (*Result, error) {
	plan, contentType, err := s.plan(ctx, req.URL)
	if err != nil {
		return nil, cancelled(ctx, domain.Fail(domain.ErrTransport, "transport/hls", err))
	}
	log.Info().Str("op", "transport/hls").Msgf("Found %d segments to download", len(plan.urls))
	c := newCollector(req, contentType)
	return runSegments(ctx, s.f.client, "transport/hls", plan, c, nil)
}

func (s *hlsStrategy) plan(ctx context.Context, playlistURL string) (segmentPlan, string, error) {
	body, finalURL, err := fetchText(ctx, s.f.client, playlistURL)
	if err != nil {
		return segmentPlan{}, "", err
	}
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return segmentPlan{}, "", fmt.Errorf("error parsing playlist: %w", err)
	}
	if listType == m3u8.MASTER {
		variant := HighestBandwidth(playlist.(*m3u8.MasterPlaylist))
		if variant == nil {
			return segmentPlan{}, "", fmt.Errorf("master playlist has no variants")
		}
		variantURL, err := resolveURL(finalURL, variant.URI)
		if err != nil {
			return segmentPlan{}, "", fmt.Errorf("error resolving variant URL: %w", err)
		}
		log.Debug().Str("op", "transport/hls").Msgf("Detected master playlist, selected variant %s (%d bps)", variantURL, variant.Bandwidth)
		body, finalURL, err = fetchText(ctx, s.f.client, variantURL)
		if err != nil {
			return segmentPlan{}, "", err
		}
		playlist, listType, err = m3u8.DecodeFrom(bytes.NewReader(body), false)
		if err != nil {
			return segmentPlan{}, "", fmt.Errorf("error parsing media playlist: %w", err)
		}
		if listType != m3u8.MEDIA {
			return segmentPlan{}, "", fmt.Errorf("variant %s is not a media playlist", variantURL)
		}
	}
	return mediaPlan(playlist.(*m3u8.MediaPlaylist), finalURL)
}

// HighestBandwidth picks the variant with the largest declared bandwidth; the first wins ties.
func HighestBandwidth(master *m3u8.MasterPlaylist) *m3u8.Variant {
	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

func mediaPlan(media *m3u8.MediaPlaylist, playlistURL string) (segmentPlan, string, error) {
	var plan segmentPlan
	contentType := ContentTypeTS
	if media.Map != nil && media.Map.URI != "" {
		initURL, err := resolveURL(playlistURL, media.Map.URI)
		if err != nil {
			return plan, "", fmt.Errorf("error resolving init segment URL: %w", err)
		}
		log.Debug().Str("op", "transport/hls").Msgf("Found init segment: %s", initURL)
		plan.urls = append(plan.urls, initURL)
		contentType = ContentTypeFMP4
	}
	if media.Key != nil && media.Key.Method != "" && media.Key.Method != "NONE" {
		log.Warn().Str("op", "transport/hls").Msgf("Playlist declares %s encryption, segments are stored as received", media.Key.Method)
	}
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		segURL, err := resolveURL(playlistURL, seg.URI)
		if err != nil {
			return plan, "", fmt.Errorf("error resolving segment URL: %w", err)
		}
		plan.urls = append(plan.urls, segURL)
	}
	if len(plan.urls) == 0 {
		return plan, "", fmt.Errorf("no segments found in playlist")
	}
	return plan, contentType, nil
}
