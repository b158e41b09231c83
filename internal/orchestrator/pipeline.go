package orchestrator

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/bus"
	"github.com/tanq16/siphon/internal/classifier"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/probe"
	"github.com/tanq16/siphon/internal/transport"
	"github.com/tanq16/siphon/internal/utils"
)

// launch starts the pipeline of a registered item in its own goroutine.
func (o *Orchestrator) launch(id string) {
	ctx, cancel := context.WithCancel(o.base)
	t := &transfer{cancel: cancel, decisions: make(chan probe.Decision, 1)}
	o.mu.Lock()
	o.active[id] = t
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			cancel()
			o.mu.Lock()
			if o.active[id] == t {
				delete(o.active, id)
			}
			if it, ok := o.items[id]; ok && it.Status.IsTerminal() {
				delete(o.items, id)
			}
			o.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("op", "orchestrator/pipeline").Str("id", id).Msgf("Pipeline panicked: %v\n%s", r, debug.Stack())
				o.fail(ctx, id, fmt.Errorf("internal error: %v", r))
			}
		}()
		if err := o.run(ctx, id); err != nil {
			if ctx.Err() != nil {
				log.Debug().Str("op", "orchestrator/pipeline").Str("id", id).Msgf("Pipeline stopped: %v", err)
				return
			}
			o.fail(ctx, id, err)
		}
	}()
}

func (o *Orchestrator) run(ctx context.Context, id string) error {
	item, err := o.lookup(ctx, id)
	if err != nil {
		return err
	}
	var target *classifier.Result
	switch item.Status {
	case domain.StatusInitiated:
		if err := o.transition(ctx, id, domain.StatusProbing, nil); err != nil {
			return err
		}
		fallthrough
	case domain.StatusProbing:
		target, err = o.discover(ctx, item)
		if err != nil {
			return err
		}
	case domain.StatusDownloading:
		if item.MediaURL == "" {
			return domain.Fail(domain.ErrClassification, "orchestrator/run", fmt.Errorf("downloading item has no media url"))
		}
		target = &classifier.Result{URL: item.MediaURL, Kind: item.Kind}
	default:
		return nil
	}
	return o.download(ctx, id, target)
}

// discover turns the item's anchor into a classified, fetchable media URL.
func (o *Orchestrator) discover(ctx context.Context, item *domain.Item) (*classifier.Result, error) {
	var hint probe.Hint
	if item.RequestURL != "" && item.RequestURL != item.Anchor {
		// A page with a known media URL still gets a short chance to reveal a better one.
		hint = probe.Hint{URL: item.RequestURL, Authoritative: true}
	} else {
		target := item.Anchor
		if embedded, ok := classifier.EmbeddedURL(item.Anchor); ok {
			log.Debug().Str("op", "orchestrator/discover").Str("id", item.ID).Msgf("Anchor carries stream %s", embedded)
			target = embedded
		}
		res, err := o.resolver.Resolve(ctx, target)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Debug().Str("op", "orchestrator/discover").Str("id", item.ID).Msgf("Direct classification failed, probing: %v", err)
		if res != nil {
			for _, c := range res.Candidates {
				if c != res.URL {
					hint = probe.Hint{URL: c}
					break
				}
			}
		}
	}
	mediaURL, err := o.probe(ctx, item, hint)
	if err != nil {
		return nil, err
	}
	res, err := o.resolver.Resolve(ctx, mediaURL)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) probe(ctx context.Context, item *domain.Item, hint probe.Hint) (string, error) {
	o.mu.Lock()
	t := o.active[item.ID]
	o.mu.Unlock()
	if t == nil {
		return "", fmt.Errorf("item %s has no live transfer", item.ID)
	}
	if _, err := o.probes.Begin(item.ID, item.Anchor, hint); err != nil {
		return "", err
	}
	select {
	case d := <-t.decisions:
		if d.Err != nil {
			return "", d.Err
		}
		return d.URL, nil
	case <-ctx.Done():
		o.probes.Abandon(item.ID)
		return "", ctx.Err()
	}
}

// fileExtension names the container a transfer produces. Direct files keep the
// extension of their URL when it has one.
func fileExtension(contentType string) string {
	if contentType == transport.ContentTypeTS {
		return "ts"
	}
	return "mp4"
}

// fileName derives the stored name of item before its transfer starts.
func (o *Orchestrator) fileName(ctx context.Context, item *domain.Item, target *classifier.Result) (string, error) {
	if !target.Kind.Segmented() {
		return utils.DeriveFileName(item.Title, item.EpisodeInfo, target.URL, fileExtension("")), nil
	}
	contentType, err := o.fetcher.ContentType(ctx, target.URL, target.Kind)
	if err != nil {
		return "", err
	}
	return utils.DeriveFileName(item.Title, item.EpisodeInfo, "", fileExtension(contentType)), nil
}

func (o *Orchestrator) download(ctx context.Context, id string, target *classifier.Result) error {
	err := o.transition(ctx, id, domain.StatusDownloading, func(it *domain.Item) {
		it.MediaURL, it.Kind = target.URL, target.Kind
	})
	if err != nil {
		return err
	}
	item, err := o.lookup(ctx, id)
	if err != nil {
		return err
	}
	name, err := o.fileName(ctx, item, target)
	if err != nil {
		return err
	}
	var sink transport.Sink
	if o.roots != nil {
		sink, err = o.roots.Sink(ctx, id, name)
		if err != nil {
			return err
		}
	}
	if r, ok := sink.(transport.Resumable); ok && target.Kind.Segmented() && r.Offset() > 0 {
		if err := r.Reset(); err != nil {
			return domain.Fail(domain.ErrTransport, "orchestrator/download", err)
		}
	}

	rep := newReporter(o, id, o.fetcher.Policy())
	log.Info().Str("op", "orchestrator/download").Str("id", id).Msgf("Fetching %s (%s) into %s", target.URL, target.Kind, name)
	result, err := o.fetcher.Fetch(ctx, transport.Request{
		URL:        target.URL,
		Kind:       target.Kind,
		Sink:       sink,
		Retain:     sink == nil,
		OnProgress: rep.report,
	})
	if err == nil && result.Bytes == 0 {
		err = domain.Fail(domain.ErrTransport, "orchestrator/download", fmt.Errorf("no bytes received"))
	}
	if err != nil {
		o.release(ctx, id, sink)
		return err
	}
	return o.finish(ctx, id, sink, name, result, rep)
}

// release drops a sink that will not be committed. Shutdown keeps resumable
// bytes; anything else discards them.
func (o *Orchestrator) release(ctx context.Context, id string, sink transport.Sink) {
	if sink == nil {
		return
	}
	if o.base.Err() != nil {
		if c, ok := sink.(io.Closer); ok {
			c.Close()
			return
		}
	}
	if err := sink.Abort(); err != nil {
		log.Warn().Str("op", "orchestrator/download").Str("id", id).Msgf("Error discarding partial data: %v", err)
	}
}

func (o *Orchestrator) finish(ctx context.Context, id string, sink transport.Sink, name string, result *transport.Result, rep *reporter) error {
	o.mu.Lock()
	item, t := o.items[id], o.active[id]
	if item == nil || item.Status != domain.StatusDownloading || ctx.Err() != nil {
		o.mu.Unlock()
		o.release(ctx, id, sink)
		return ctx.Err()
	}
	if t != nil {
		t.finishing = true
	}
	o.mu.Unlock()

	rep.flush()
	fileName := name
	if sink != nil {
		committed, err := sink.Commit()
		if err != nil {
			sink.Abort()
			return domain.Fail(domain.ErrPermission, "orchestrator/commit", err)
		}
		fileName = committed
	}
	if result.Capped {
		log.Info().Str("op", "orchestrator/download").Str("id", id).Msgf("Stored the first %d segments of a longer stream", result.Segments)
	}
	if result.Partial {
		log.Warn().Str("op", "orchestrator/download").Str("id", id).Msgf("Stored partial result of %d/%d segments: %v", result.Segments, result.SegmentTotal, result.Cause)
	}
	err := o.transition(ctx, id, domain.StatusCompleted, func(it *domain.Item) {
		it.FileName, it.Partial = fileName, result.Partial
		it.BytesReceived, it.TotalBytes, it.Progress = result.Bytes, result.Bytes, 100
	})
	if err != nil {
		return err
	}
	msg := bus.Message{Type: bus.TypeComplete, ID: id, Size: result.Bytes, FileName: fileName, Partial: result.Partial, ContentType: result.ContentType}
	if sink == nil {
		msg.ResultHandle = result.Buffer()
	}
	log.Info().Str("op", "orchestrator/download").Str("id", id).Msgf("Completed %s (%s)", fileName, utils.FormatBytes(uint64(result.Bytes)))
	o.publish(ctx, msg)
	return nil
}

// transition moves id to status, applying mutate under the lock, then persists.
// A rehydrated item re-entering its current active state only applies mutate.
func (o *Orchestrator) transition(ctx context.Context, id string, status domain.Status, mutate func(*domain.Item)) error {
	o.mu.Lock()
	item, ok := o.items[id]
	if !ok {
		o.mu.Unlock()
		return domain.ErrNotFound
	}
	if item.Status != status || !status.IsActive() {
		if err := item.Transition(status, o.now()); err != nil {
			o.mu.Unlock()
			return err
		}
	}
	if mutate != nil {
		mutate(item)
	}
	snap := item.Clone()
	o.mu.Unlock()
	o.persist(ctx, snap)
	return nil
}

// fail ends a non-terminal item as failed and publishes one failed event.
// An item that never left initiated is moved through probing first.
func (o *Orchestrator) fail(ctx context.Context, id string, cause error) {
	o.mu.Lock()
	item, ok := o.items[id]
	initiated := ok && item.Status == domain.StatusInitiated
	o.mu.Unlock()
	if initiated {
		if err := o.transition(ctx, id, domain.StatusProbing, nil); err == nil {
			o.phase(id, probe.PhaseProbing)
		}
	}

	o.mu.Lock()
	item, ok = o.items[id]
	if !ok || item.Status.IsTerminal() {
		o.mu.Unlock()
		return
	}
	if err := item.Transition(domain.StatusFailed, o.now()); err != nil {
		o.mu.Unlock()
		log.Error().Str("op", "orchestrator/fail").Str("id", id).Msgf("Error failing item: %v", err)
		return
	}
	item.Error = cause.Error()
	snap := item.Clone()
	o.mu.Unlock()

	log.Error().Str("op", "orchestrator/fail").Str("id", id).Msgf("Item failed (%v): %v", domain.Classify(cause), cause)
	o.persist(ctx, snap)
	o.publish(ctx, bus.Message{Type: bus.TypeFailed, ID: id, Error: snap.Error})
}
