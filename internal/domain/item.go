package domain

import (
	"fmt"
	"time"
)

// Item is one requested download and everything known about its progress.
type Item struct {
	ID            string    `json:"id"`
	ParentID      string    `json:"parentId,omitempty"`
	Anchor        string    `json:"href"`
	Title         string    `json:"title"`
	EpisodeInfo   string    `json:"episodeInfo,omitempty"`
	RequestURL    string    `json:"url,omitempty"`
	MediaURL      string    `json:"mediaUrl,omitempty"`
	Kind          Kind      `json:"kind,omitempty"`
	Status        Status    `json:"status"`
	Progress      float64   `json:"progress"`
	BytesReceived int64     `json:"bytesReceived"`
	TotalBytes    int64     `json:"totalBytes,omitempty"`
	FileName      string    `json:"fileName,omitempty"`
	Partial       bool      `json:"partial,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	CompletedAt   time.Time `json:"completedAt,omitzero"`
	Error         string    `json:"error,omitempty"`
}

// Transition moves the item along the state machine, stamping CompletedAt on terminal states.
func (it *Item) Transition(to Status, now time.Time) error {
	if !CanTransition(it.Status, to) {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, it.Status, to, it.ID)
	}
	it.Status = to
	if to.IsTerminal() {
		it.CompletedAt = now
	}
	return nil
}

func (it *Item) Clone() *Item {
	c := *it
	return &c
}
