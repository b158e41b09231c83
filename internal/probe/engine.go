package probe

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/domain"
)

// Opener runs a hidden playback context for an anchor until ctx ends.
type Opener interface {
	Open(ctx context.Context, anchor string) error
}

type Options struct {
	Policy     Policy
	Opener     Opener
	OnDecision func(Decision)
	OnPhase    func(itemID, phase string)
	Now        func() time.Time
}

type session struct {
	Session
	hint       Hint
	candidates []string
	timer      *time.Timer
	waiting    *time.Timer
}

type hiddenContext struct {
	cancel context.CancelFunc
	refs   int
}

// Engine owns the pending probe sessions. Discovered media is credited to the
// oldest pending session and every session ends in exactly one Decision.
type Engine struct {
	policy     Policy
	opener     Opener
	onDecision func(Decision)
	onPhase    func(itemID, phase string)
	now        func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	pending  []*session
	contexts map[string]*hiddenContext
	closed   bool
}

func NewEngine(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OnDecision == nil {
		opts.OnDecision = func(Decision) {}
	}
	if opts.OnPhase == nil {
		opts.OnPhase = func(string, string) {}
	}
	base, cancel := context.WithCancel(context.Background())
	return &Engine{
		policy:     opts.Policy.withDefaults(),
		opener:     opts.Opener,
		onDecision: opts.OnDecision,
		onPhase:    opts.OnPhase,
		now:        opts.Now,
		base:       base,
		cancel:     cancel,
		contexts:   make(map[string]*hiddenContext),
	}
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// Begin registers a session for itemID and opens a hidden playback context on anchor.
func (e *Engine) Begin(itemID, anchor string, hint Hint) (Session, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Session{}, fmt.Errorf("probe engine closed")
	}
	if slices.ContainsFunc(e.pending, func(s *session) bool { return s.ItemID == itemID }) {
		e.mu.Unlock()
		return Session{}, fmt.Errorf("item %s is already probing", itemID)
	}
	s := &session{
		Session: Session{ID: uuid.NewString(), ItemID: itemID, Anchor: anchor, StartedAt: e.now()},
		hint:    hint,
	}
	timeout := e.policy.Timeout(hint)
	s.timer = time.AfterFunc(timeout, func() { e.expire(s, timeout) })
	s.waiting = time.AfterFunc(e.policy.WaitingAfter, func() {
		if e.isPending(s) {
			e.onPhase(s.ItemID, PhaseWaiting)
		}
	})
	e.pending = append(e.pending, s)
	e.openContext(anchor)
	e.mu.Unlock()

	log.Debug().Str("op", "probe/engine").Str("id", itemID).Msgf("Probe session %s started for %s (fallback after %s)", s.ID, anchor, timeout)
	e.onPhase(itemID, PhaseProbing)
	return s.Session, nil
}

// openContext starts or joins the hidden context for anchor. Callers hold e.mu.
func (e *Engine) openContext(anchor string) {
	if e.opener == nil || anchor == "" {
		return
	}
	if hc, ok := e.contexts[anchor]; ok {
		hc.refs++
		return
	}
	ctx, cancel := context.WithTimeout(e.base, e.policy.Ceiling)
	hc := &hiddenContext{cancel: cancel, refs: 1}
	e.contexts[anchor] = hc
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			cancel()
			e.mu.Lock()
			if e.contexts[anchor] == hc {
				delete(e.contexts, anchor)
			}
			e.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("op", "probe/engine").Msgf("Hidden context for %s panicked: %v", anchor, r)
			}
		}()
		if err := e.opener.Open(ctx, anchor); err != nil && ctx.Err() == nil {
			log.Debug().Str("op", "probe/engine").Msgf("Hidden context for %s ended: %v", anchor, err)
			for _, id := range e.itemsFor(anchor) {
				e.onPhase(id, PhaseContextError)
			}
		}
	}()
}

// releaseContext drops one reference to the hidden context of anchor. Callers hold e.mu.
func (e *Engine) releaseContext(anchor string) {
	hc, ok := e.contexts[anchor]
	if !ok {
		return
	}
	hc.refs--
	if hc.refs <= 0 {
		hc.cancel()
		delete(e.contexts, anchor)
	}
}

func (e *Engine) itemsFor(anchor string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for _, s := range e.pending {
		if s.Anchor == anchor {
			ids = append(ids, s.ItemID)
		}
	}
	return ids
}

func (e *Engine) isPending(s *session) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Contains(e.pending, s)
}

// remove takes s out of the pending queue. It reports false if s was already resolved.
// Callers hold e.mu.
func (e *Engine) remove(s *session) bool {
	idx := slices.Index(e.pending, s)
	if idx < 0 {
		return false
	}
	e.pending = slices.Delete(e.pending, idx, idx+1)
	s.timer.Stop()
	s.waiting.Stop()
	e.releaseContext(s.Anchor)
	return true
}

// Attribute credits an observation to the oldest pending session. Whole resources
// decide the session at once; other media responses are kept as fallback candidates.
func (e *Engine) Attribute(obs Observation) (string, bool) {
	if !usable(obs) {
		return "", false
	}
	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		log.Debug().Str("op", "probe/engine").Msgf("No pending session for %s", obs.URL)
		return "", false
	}
	s := e.pending[0]
	if !decisive(obs) {
		switch extOf(obs.URL) {
		case "ts", "m4s", "aac", "vtt":
		default:
			if !slices.Contains(s.candidates, obs.URL) {
				s.candidates = append(s.candidates, obs.URL)
			}
		}
		e.mu.Unlock()
		return "", false
	}
	e.remove(s)
	e.mu.Unlock()

	log.Info().Str("op", "probe/engine").Str("id", s.ItemID).Msgf("Discovered media %s", obs.URL)
	e.onPhase(s.ItemID, PhaseDiscovered)
	e.onDecision(Decision{Session: s.Session, URL: obs.URL, Discovered: true})
	return s.ItemID, true
}

func (e *Engine) expire(s *session, after time.Duration) {
	e.mu.Lock()
	if !e.remove(s) {
		e.mu.Unlock()
		return
	}
	candidate := s.hint.URL
	if candidate == "" && len(s.candidates) > 0 {
		candidate = s.candidates[0]
	}
	e.mu.Unlock()

	e.onPhase(s.ItemID, PhaseTimeout)
	if candidate != "" {
		log.Info().Str("op", "probe/engine").Str("id", s.ItemID).Msgf("Probe timed out after %s, using known candidate %s", after, candidate)
		e.onDecision(Decision{Session: s.Session, URL: candidate})
		return
	}
	log.Warn().Str("op", "probe/engine").Str("id", s.ItemID).Msgf("Probe timed out after %s without media", after)
	e.onDecision(Decision{
		Session: s.Session,
		Err:     domain.Fail(domain.ErrProbeTimeout, "probe/engine", fmt.Errorf("no media observed within %s", after)),
	})
}

// Abandon drops the session of itemID without a decision.
func (e *Engine) Abandon(itemID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.pending {
		if s.ItemID == itemID {
			e.remove(s)
			log.Debug().Str("op", "probe/engine").Str("id", itemID).Msgf("Probe session %s abandoned", s.ID)
			return true
		}
	}
	return false
}

// Pending lists the sessions in attribution order.
func (e *Engine) Pending() []Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Session, 0, len(e.pending))
	for _, s := range e.pending {
		out = append(out, s.Session)
	}
	return out
}

// Close stops all timers and tears down every hidden context.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	for _, s := range e.pending {
		s.timer.Stop()
		s.waiting.Stop()
	}
	e.pending = nil
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}
