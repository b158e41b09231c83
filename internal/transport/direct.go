package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/utils"
)

type directStrategy struct {
	f *Fetcher
}

func (s *directStrategy) Fetch(ctx context.Context, req Request) (*Result, error) {
	var resumeOffset int64
	resumable, canResume := req.Sink.(Resumable)
	if canResume {
		resumeOffset = resumable.Offset()
	}
	header := make(http.Header)
	if resumeOffset > 0 {
		header.Set("Range", fmt.Sprintf("bytes=%d-", resumeOffset))
		log.Debug().Str("op", "transport/direct").Msgf("Resuming download from offset %d", resumeOffset)
	}
	resp, err := utils.Get(ctx, s.f.client, req.URL, header)
	if err != nil {
		return nil, cancelled(ctx, domain.Fail(domain.ErrTransport, "transport/direct", err))
	}
	defer resp.Body.Close()

	switch {
	case resumeOffset > 0 && resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK:
		if resumeOffset > 0 {
			log.Warn().Str("op", "transport/direct").Msgf("Server does not support resume (status %d). Restarting download.", resp.StatusCode)
			if err := resumable.Reset(); err != nil {
				return nil, domain.Fail(domain.ErrTransport, "transport/direct", err)
			}
			resumeOffset = 0
		}
	default:
		return nil, domain.Fail(domain.ErrTransport, "transport/direct", fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	c := newCollector(req, resp.Header.Get("Content-Type"))
	var total int64
	if resp.ContentLength > 0 {
		total = resumeOffset + resp.ContentLength
	}
	received := resumeOffset
	if resumeOffset > 0 {
		c.report(Progress{BytesReceived: received, Total: total})
	}
	buffer := make([]byte, utils.DefaultBufferSize)
	for {
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			if err := c.write(buffer[:bytesRead]); err != nil {
				return nil, domain.Fail(domain.ErrTransport, "transport/direct", err)
			}
			received += int64(bytesRead)
			c.report(Progress{BytesReceived: received, Total: total})
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return nil, cancelled(ctx, domain.Fail(domain.ErrTransport, "transport/direct", fmt.Errorf("error reading response body: %w", readErr)))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if total > 0 && received < total {
		return nil, domain.Fail(domain.ErrTransport, "transport/direct", fmt.Errorf("short body: %d of %d bytes", received, total))
	}
	c.result.Bytes = received
	log.Debug().Str("op", "transport/direct").Msgf("Direct download finished with %s", utils.FormatBytes(uint64(received)))
	return c.result, nil
}
