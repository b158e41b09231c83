package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/utils"
)

// Progress is reported after every chunk (direct) or segment (HLS/DASH).
type Progress struct {
	BytesReceived int64
	Total         int64
	SegmentIndex  int
	SegmentTotal  int
}

type ProgressFunc func(Progress)

// Sink is the durable destination of a transfer. Chunks are written as they arrive.
type Sink interface {
	io.Writer
	// Commit finalises the written bytes and returns the final file name.
	Commit() (string, error)
	// Abort discards everything written so far.
	Abort() error
}

// Resumable is implemented by sinks that may already hold bytes from an interrupted attempt.
type Resumable interface {
	Offset() int64
	Reset() error
}

type Request struct {
	URL  string
	Kind domain.Kind
	// Sink may be nil when no durable storage is available; Retain must then be set.
	Sink Sink
	// Retain keeps every chunk in memory so the result can serve as a resource handle.
	Retain     bool
	OnProgress ProgressFunc
}

type Result struct {
	Bytes        int64
	ContentType  string
	Segments     int
	SegmentTotal int
	// Partial is set when a segmented transfer stopped on a failed segment and kept what it had.
	Partial bool
	// Capped is set when a DASH transfer stopped at the configured byte or segment
	// ceiling, or its timeline declared more segments than the template cap.
	Capped bool
	Cause  error
	Chunks [][]byte
}

// Buffer concatenates the retained chunks in fetch order.
func (r *Result) Buffer() []byte {
	size := 0
	for _, c := range r.Chunks {
		size += len(c)
	}
	buf := make([]byte, 0, size)
	for _, c := range r.Chunks {
		buf = append(buf, c...)
	}
	return buf
}

// Strategy acquires one kind of media resource.
type Strategy interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}

type Fetcher struct {
	client utils.HTTPDoer
	policy Policy
}

func NewFetcher(client utils.HTTPDoer, policy Policy) *Fetcher {
	return &Fetcher{client: client, policy: policy.withDefaults()}
}

func (f *Fetcher) Policy() Policy {
	return f.policy
}

// Strategy returns the acquisition strategy for a classified kind.
func (f *Fetcher) Strategy(kind domain.Kind) (Strategy, error) {
	switch kind {
	case domain.KindDirect:
		return &directStrategy{f}, nil
	case domain.KindHLS:
		return &hlsStrategy{f}, nil
	case domain.KindDASH:
		return &dashStrategy{f}, nil
	}
	return nil, fmt.Errorf("no transport for kind %q", kind)
}

func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	s, err := f.Strategy(req.Kind)
	if err != nil {
		return nil, domain.Fail(domain.ErrTransport, "transport/fetch", err)
	}
	return s.Fetch(ctx, req)
}

// ContentType reports the container a segmented transfer of target will produce,
// so the destination can be named before any byte is written. Direct transfers
// answer "" since only the response knows.
func (f *Fetcher) ContentType(ctx context.Context, target string, kind domain.Kind) (string, error) {
	switch kind {
	case domain.KindHLS:
		_, contentType, err := (&hlsStrategy{f}).plan(ctx, target)
		if err != nil {
			return "", cancelled(ctx, domain.Fail(domain.ErrTransport, "transport/hls", err))
		}
		return contentType, nil
	case domain.KindDASH:
		return ContentTypeFMP4, nil
	}
	return "", nil
}

// collector fans every chunk out to the sink and, when asked, to memory.
type collector struct {
	req    Request
	result *Result
}

func newCollector(req Request, contentType string) *collector {
	return &collector{req: req, result: &Result{ContentType: contentType}}
}

func (c *collector) write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if c.req.Sink != nil {
		if _, err := c.req.Sink.Write(p); err != nil {
			return fmt.Errorf("error writing to sink: %w", err)
		}
	}
	if c.req.Retain || c.req.Sink == nil {
		chunk := make([]byte, len(p))
		copy(chunk, p)
		c.result.Chunks = append(c.result.Chunks, chunk)
	}
	c.result.Bytes += int64(len(p))
	return nil
}

func (c *collector) report(p Progress) {
	if c.req.OnProgress != nil {
		c.req.OnProgress(p)
	}
}

// cancelled maps any failure observed after ctx was cancelled onto ctx.Err().
func cancelled(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
