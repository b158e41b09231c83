package transport

import "time"

// Policy holds the named heuristics of the transport layer.
type Policy struct {
	// DASHMaxBytes stops a DASH transfer successfully once exceeded.
	DASHMaxBytes int64
	// DASHMaxSegments stops a DASH transfer successfully once reached.
	DASHMaxSegments int
	// TemplateSegmentCap bounds SegmentTemplate expansion, with or without a timeline.
	TemplateSegmentCap int
	// Estimate turns a byte count into a percentage when the total is unknown.
	Estimate func(received int64) float64
	// ProgressInterval throttles progress events; zero emits every report.
	ProgressInterval time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		DASHMaxBytes:       1288490188, // 1.2 GiB
		DASHMaxSegments:    400,
		TemplateSegmentCap: 120,
		Estimate:           SyntheticEstimate,
		ProgressInterval:   time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.DASHMaxBytes <= 0 {
		p.DASHMaxBytes = d.DASHMaxBytes
	}
	if p.DASHMaxSegments <= 0 {
		p.DASHMaxSegments = d.DASHMaxSegments
	}
	if p.TemplateSegmentCap <= 0 {
		p.TemplateSegmentCap = d.TemplateSegmentCap
	}
	if p.Estimate == nil {
		p.Estimate = d.Estimate
	}
	return p
}

// SyntheticEstimate cycles through 0-99 once per 100 MiB so the bar keeps moving.
func SyntheticEstimate(received int64) float64 {
	mib := received / (1 << 20)
	return float64(min(99, mib%100))
}

// Percent converts a progress report into a 0-100 value.
func (p Policy) Percent(pr Progress) float64 {
	switch {
	case pr.Total > 0:
		return min(100, float64(pr.BytesReceived)*100/float64(pr.Total))
	case pr.SegmentTotal > 0:
		return min(100, float64(pr.SegmentIndex)*100/float64(pr.SegmentTotal))
	case p.Estimate != nil:
		return p.Estimate(pr.BytesReceived)
	}
	return 0
}
