package transport

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/domain"
)

type dashMPD struct {
	XMLName xml.Name     `xml:"MPD"`
	Type    string       `xml:"type,attr"`
	BaseURL string       `xml:"BaseURL"`
	Period  []dashPeriod `xml:"Period"`
}

type dashPeriod struct {
	BaseURL       string              `xml:"BaseURL"`
	AdaptationSet []dashAdaptationSet `xml:"AdaptationSet"`
}

type dashAdaptationSet struct {
	MimeType        string               `xml:"mimeType,attr"`
	ContentType     string               `xml:"contentType,attr"`
	BaseURL         string               `xml:"BaseURL"`
	SegmentTemplate *dashSegmentTemplate `xml:"SegmentTemplate"`
	SegmentList     *dashSegmentList     `xml:"SegmentList"`
	Representation  []dashRepresentation `xml:"Representation"`
}

type dashRepresentation struct {
	ID              string               `xml:"id,attr"`
	Bandwidth       int64                `xml:"bandwidth,attr"`
	MimeType        string               `xml:"mimeType,attr"`
	Width           int                  `xml:"width,attr"`
	Height          int                  `xml:"height,attr"`
	BaseURL         string               `xml:"BaseURL"`
	SegmentTemplate *dashSegmentTemplate `xml:"SegmentTemplate"`
	SegmentList     *dashSegmentList     `xml:"SegmentList"`
}

type dashSegmentList struct {
	Initialization *dashURL         `xml:"Initialization"`
	SegmentURL     []dashSegmentURL `xml:"SegmentURL"`
}

type dashURL struct {
	SourceURL string `xml:"sourceURL,attr"`
}

type dashSegmentURL struct {
	Media string `xml:"media,attr"`
}

type dashSegmentTemplate struct {
	Initialization  string               `xml:"initialization,attr"`
	Media           string               `xml:"media,attr"`
	StartNumber     *int64               `xml:"startNumber,attr"`
	SegmentTimeline *dashSegmentTimeline `xml:"SegmentTimeline"`
}

type dashSegmentTimeline struct {
	S []dashS `xml:"S"`
}

type dashS struct {
	T *int64 `xml:"t,attr"` // Pointer to distinguish missing attribute
	D int64  `xml:"d,attr"`
	R int64  `xml:"r,attr"`
}

// dashSelection is the chosen video Representation together with the context it inherits from.
type dashSelection struct {
	rep  dashRepresentation
	set  dashAdaptationSet
	base string
}

type dashStrategy struct {
	f *Fetcher
}

func (s *dashStrategy) Fetch(ctx context.Context, req Request) (*Result, error) {
	body, finalURL, err := fetchText(ctx, s.f.client, req.URL)
	if err != nil {
		return nil, cancelled(ctx, domain.Fail(domain.ErrTransport, "transport/dash", err))
	}
	plan, err := planDASH(body, finalURL, s.f.policy.TemplateSegmentCap)
	if err != nil {
		return nil, domain.Fail(domain.ErrTransport, "transport/dash", err)
	}
	log.Info().Str("op", "transport/dash").Msgf("Found %d segments to download", len(plan.urls))
	c := newCollector(req, ContentTypeFMP4)
	policy := s.f.policy
	stop := func(received int64, done int) bool {
		if received > policy.DASHMaxBytes || done >= policy.DASHMaxSegments {
			log.Info().Str("op", "transport/dash").Msgf("Stopping at ceiling after %d segments (%d bytes)", done, received)
			return true
		}
		return false
	}
	return runSegments(ctx, s.f.client, "transport/dash", plan, c, stop)
}

func planDASH(body []byte, manifestURL string, templateCap int) (segmentPlan, error) {
	var mpd dashMPD
	if err := xml.Unmarshal(body, &mpd); err != nil {
		return segmentPlan{}, fmt.Errorf("error parsing MPD: %w", err)
	}
	sel, err := selectVideo(&mpd, manifestURL)
	if err != nil {
		return segmentPlan{}, err
	}
	log.Debug().Str("op", "transport/dash").Msgf("Selected representation %q (%d bps)", sel.rep.ID, sel.rep.Bandwidth)
	return sel.segments(templateCap)
}

func isVideo(set dashAdaptationSet, rep dashRepresentation) bool {
	mime := rep.MimeType
	if mime == "" {
		mime = set.MimeType
	}
	if strings.HasPrefix(mime, "video/") || set.ContentType == "video" {
		return true
	}
	return mime == "" && set.ContentType == "" && (rep.Width > 0 || rep.Height > 0)
}

// selectVideo picks the highest-bandwidth video Representation of the first Period that has one.
func selectVideo(mpd *dashMPD, manifestURL string) (*dashSelection, error) {
	root, err := joinBase(manifestURL, mpd.BaseURL)
	if err != nil {
		return nil, err
	}
	for _, period := range mpd.Period {
		periodBase, err := joinBase(root, period.BaseURL)
		if err != nil {
			return nil, err
		}
		var best *dashSelection
		for _, set := range period.AdaptationSet {
			for _, rep := range set.Representation {
				if !isVideo(set, rep) {
					continue
				}
				if best == nil || rep.Bandwidth > best.rep.Bandwidth {
					best = &dashSelection{rep: rep, set: set, base: periodBase}
				}
			}
		}
		if best != nil {
			setBase, err := joinBase(best.base, best.set.BaseURL)
			if err != nil {
				return nil, err
			}
			best.base, err = joinBase(setBase, best.rep.BaseURL)
			if err != nil {
				return nil, err
			}
			return best, nil
		}
	}
	return nil, fmt.Errorf("no video representation in MPD")
}

func joinBase(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return base, nil
	}
	return resolveURL(base, ref)
}

func (sel *dashSelection) segments(templateCap int) (segmentPlan, error) {
	list := sel.rep.SegmentList
	if list == nil {
		list = sel.set.SegmentList
	}
	if list != nil {
		return sel.fromList(list)
	}
	tmpl := sel.rep.SegmentTemplate
	if tmpl == nil {
		tmpl = sel.set.SegmentTemplate
	}
	if tmpl != nil {
		return sel.fromTemplate(tmpl, templateCap)
	}
	// SegmentBase or bare BaseURL: the whole representation is one resource.
	return segmentPlan{urls: []string{sel.base}}, nil
}

func (sel *dashSelection) fromList(list *dashSegmentList) (segmentPlan, error) {
	var plan segmentPlan
	if list.Initialization != nil && list.Initialization.SourceURL != "" {
		u, err := resolveURL(sel.base, list.Initialization.SourceURL)
		if err != nil {
			return plan, err
		}
		plan.urls = append(plan.urls, u)
	}
	for _, seg := range list.SegmentURL {
		if seg.Media == "" {
			continue
		}
		u, err := resolveURL(sel.base, seg.Media)
		if err != nil {
			return plan, err
		}
		plan.urls = append(plan.urls, u)
	}
	if len(plan.urls) == 0 {
		return plan, fmt.Errorf("empty SegmentList")
	}
	return plan, nil
}

func (sel *dashSelection) fromTemplate(tmpl *dashSegmentTemplate, templateCap int) (segmentPlan, error) {
	plan := segmentPlan{}
	if tmpl.Initialization != "" {
		u, err := resolveURL(sel.base, expandTemplate(tmpl.Initialization, sel.rep, 0, 0))
		if err != nil {
			return plan, err
		}
		plan.urls = append(plan.urls, u)
	}
	if tmpl.Media == "" {
		return plan, fmt.Errorf("SegmentTemplate without media attribute")
	}
	number := int64(1)
	if tmpl.StartNumber != nil {
		number = *tmpl.StartNumber
	}
	add := func(num, t int64) error {
		u, err := resolveURL(sel.base, expandTemplate(tmpl.Media, sel.rep, num, t))
		if err != nil {
			return err
		}
		plan.urls = append(plan.urls, u)
		return nil
	}
	count := 0
	if tmpl.SegmentTimeline != nil && len(tmpl.SegmentTimeline.S) > 0 {
		var t, declared int64
		for _, s := range tmpl.SegmentTimeline.S {
			if s.T != nil {
				t = *s.T
			}
			declared += max(s.R, 0) + 1
			for r := int64(0); r <= max(s.R, 0) && count < templateCap; r++ {
				if err := add(number, t); err != nil {
					return plan, err
				}
				number++
				t += s.D
				count++
			}
		}
		if declared > int64(count) {
			log.Warn().Str("op", "transport/dash").Msgf("Timeline declares %d segments, keeping the first %d", declared, count)
			plan.capped = true
		}
		return plan, nil
	}
	// Without a timeline the real segment count is unknown; expand up to the cap.
	plan.open = true
	for ; count < templateCap; count++ {
		if err := add(number, 0); err != nil {
			return plan, err
		}
		number++
	}
	return plan, nil
}

var templateVar = regexp.MustCompile(`\$(RepresentationID|Number|Bandwidth|Time)(%0(\d+)d)?\$`)

func expandTemplate(tmpl string, rep dashRepresentation, number, t int64) string {
	out := templateVar.ReplaceAllStringFunc(tmpl, func(m string) string {
		parts := templateVar.FindStringSubmatch(m)
		var value string
		switch parts[1] {
		case "RepresentationID":
			return rep.ID
		case "Number":
			value = strconv.FormatInt(number, 10)
		case "Bandwidth":
			value = strconv.FormatInt(rep.Bandwidth, 10)
		case "Time":
			value = strconv.FormatInt(t, 10)
		}
		if parts[3] != "" {
			width, _ := strconv.Atoi(parts[3])
			for len(value) < width {
				value = "0" + value
			}
		}
		return value
	})
	return strings.ReplaceAll(out, "$$", "$")
}
