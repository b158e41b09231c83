package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/tanq16/siphon/internal/utils"
)

// Sender is one delivery path of the bus.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Handler consumes delivered messages.
type Handler func(ctx context.Context, msg Message)

// Local delivers synchronously to subscribers in the current context.
type Local struct {
	mu   sync.RWMutex
	next int
	subs map[int]Handler
}

func NewLocal() *Local {
	return &Local{subs: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (l *Local) Subscribe(h Handler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.next
	l.next++
	l.subs[id] = h
	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *Local) Name() string { return "direct" }

func (l *Local) Send(ctx context.Context, msg Message) error {
	l.mu.RLock()
	handlers := make([]Handler, 0, len(l.subs))
	for _, h := range l.subs {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, msg)
	}
	return nil
}

// Parent delivers to the immediate parent context, in process or over HTTP.
type Parent struct {
	deliver func(ctx context.Context, msg Message) error
}

func NewParentFunc(h Handler) *Parent {
	return &Parent{deliver: func(ctx context.Context, msg Message) error {
		h(ctx, msg)
		return nil
	}}
}

// NewParentHTTP posts every message as JSON to endpoint.
func NewParentHTTP(client utils.HTTPDoer, endpoint string) *Parent {
	return &Parent{deliver: func(ctx context.Context, msg Message) error {
		body, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 300 {
			return fmt.Errorf("parent returned status %d", resp.StatusCode)
		}
		return nil
	}}
}

func (p *Parent) Name() string { return "parent" }

func (p *Parent) Send(ctx context.Context, msg Message) error {
	return p.deliver(ctx, msg)
}
