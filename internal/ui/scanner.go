package ui

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultScanInterval = 4 * time.Second
	DefaultDebounce     = 120 * time.Millisecond
)

// Source reports the candidates currently visible on a surface.
type Source interface {
	Scan(ctx context.Context) ([]Candidate, error)
}

// Scanner rescans a Source periodically and on demand, emitting each
// candidate once per distinct href and url.
type Scanner struct {
	source   Source
	interval time.Duration
	debounce time.Duration
	trigger  chan struct{}

	mu   sync.Mutex
	seen map[string]bool
}

func NewScanner(source Source, interval, debounce time.Duration) *Scanner {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Scanner{
		source:   source,
		interval: interval,
		debounce: debounce,
		trigger:  make(chan struct{}, 1),
		seen:     make(map[string]bool),
	}
}

// Trigger asks for a rescan after the debounce delay. Bursts collapse into one scan.
func (s *Scanner) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Scan runs a single pass and returns the candidates not seen before.
func (s *Scanner) Scan(ctx context.Context) ([]Candidate, error) {
	found, err := s.source.Scan(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var fresh []Candidate
	for _, c := range found {
		if c.Href == "" && c.URL == "" {
			continue
		}
		if s.seen[c.key()] {
			continue
		}
		s.seen[c.key()] = true
		fresh = append(fresh, c)
	}
	return fresh, nil
}

// Run scans until ctx ends, passing new candidates to emit.
func (s *Scanner) Run(ctx context.Context, emit func(Candidate)) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	var debounce <-chan time.Time
	pass := func() {
		fresh, err := s.Scan(ctx)
		if err != nil {
			log.Warn().Str("op", "ui/scanner").Err(err).Msg("Scan failed")
			return
		}
		for _, c := range fresh {
			emit(c)
		}
	}
	pass()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pass()
		case <-s.trigger:
			if debounce == nil {
				debounce = time.After(s.debounce)
			}
		case <-debounce:
			debounce = nil
			pass()
		}
	}
}
