package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Envelope is a serialised message on the bridge attribute.
type Envelope struct {
	Seq     uint64    `json:"seq"`
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Message Message   `json:"message"`
}

// Attribute is the shared, polled slot the bridge writes to.
type Attribute interface {
	Append(env Envelope) (Envelope, error)
	Since(seq uint64) ([]Envelope, error)
	Head() (uint64, error)
}

const DefaultRingSize = 64

type ring struct {
	Seq       uint64     `json:"seq"`
	Envelopes []Envelope `json:"envelopes"`
}

func (r *ring) append(env Envelope, size int) Envelope {
	r.Seq++
	env.Seq = r.Seq
	r.Envelopes = append(r.Envelopes, env)
	if over := len(r.Envelopes) - size; over > 0 {
		r.Envelopes = append([]Envelope(nil), r.Envelopes[over:]...)
	}
	return env
}

func (r *ring) since(seq uint64) []Envelope {
	var out []Envelope
	for _, env := range r.Envelopes {
		if env.Seq > seq {
			out = append(out, env)
		}
	}
	return out
}

// MemoryAttribute keeps the last envelopes in process memory.
type MemoryAttribute struct {
	mu   sync.Mutex
	size int
	ring ring
}

func NewMemoryAttribute(size int) *MemoryAttribute {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &MemoryAttribute{size: size}
}

func (a *MemoryAttribute) Append(env Envelope) (Envelope, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ring.append(env, a.size), nil
}

func (a *MemoryAttribute) Since(seq uint64) ([]Envelope, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ring.since(seq), nil
}

func (a *MemoryAttribute) Head() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ring.Seq, nil
}

// FileAttribute keeps the ring in a JSON file so other processes can poll it.
// Writes replace the file atomically.
type FileAttribute struct {
	mu   sync.Mutex
	path string
	size int
}

func NewFileAttribute(path string, size int) (*FileAttribute, error) {
	if size <= 0 {
		size = DefaultRingSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("error creating bridge directory: %w", err)
	}
	return &FileAttribute{path: path, size: size}, nil
}

func (a *FileAttribute) load() (ring, error) {
	var r ring
	data, err := os.ReadFile(a.path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return r, err
	}
	if len(data) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("error decoding bridge file: %w", err)
	}
	return r, nil
}

func (a *FileAttribute) Append(env Envelope) (Envelope, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, err := a.load()
	if err != nil {
		return env, err
	}
	env = r.append(env, a.size)
	data, err := json.Marshal(r)
	if err != nil {
		return env, err
	}
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return env, err
	}
	return env, os.Rename(tmp, a.path)
}

func (a *FileAttribute) Since(seq uint64) ([]Envelope, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, err := a.load()
	if err != nil {
		return nil, err
	}
	return r.since(seq), nil
}

func (a *FileAttribute) Head() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, err := a.load()
	return r.Seq, err
}

// Bridge writes envelopes to an Attribute for contexts that cannot receive
// direct messages. Capabilities never travel this way.
type Bridge struct {
	attr Attribute
	now  func() time.Time
}

func NewBridge(attr Attribute) *Bridge {
	return &Bridge{attr: attr, now: time.Now}
}

func (b *Bridge) Name() string { return "bridge" }

func (b *Bridge) Attribute() Attribute { return b.attr }

func (b *Bridge) Send(ctx context.Context, msg Message) error {
	if msg.Handle != nil {
		log.Debug().Str("op", "bus/bridge").Msgf("Not bridging %s: carries a root capability", msg.Type)
		return nil
	}
	msg.ResultHandle = nil
	_, err := b.attr.Append(Envelope{ID: uuid.NewString(), At: b.now(), Message: msg})
	return err
}

// Poller reads new envelopes from an Attribute and hands them to a handler.
type Poller struct {
	attr     Attribute
	interval time.Duration
	handler  Handler
	last     uint64
	started  bool
}

// NewPoller starts reading after the current head of attr.
func NewPoller(attr Attribute, interval time.Duration, h Handler) *Poller {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Poller{attr: attr, interval: interval, handler: h}
}

// Poll delivers every envelope appended since the previous call.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	if !p.started {
		head, err := p.attr.Head()
		if err != nil {
			return 0, err
		}
		p.last, p.started = head, true
		return 0, nil
	}
	envs, err := p.attr.Since(p.last)
	if err != nil {
		return 0, err
	}
	for _, env := range envs {
		p.last = env.Seq
		p.handler(ctx, env.Message)
	}
	return len(envs), nil
}

func (p *Poller) Run(ctx context.Context) error {
	if _, err := p.Poll(ctx); err != nil {
		log.Warn().Str("op", "bus/bridge").Msgf("Error reading bridge: %v", err)
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil {
				log.Warn().Str("op", "bus/bridge").Msgf("Error reading bridge: %v", err)
			}
		}
	}
}
