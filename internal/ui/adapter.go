// Package ui connects user-facing surfaces to the engine: affordance scanning,
// a de-duplicated mirror of item state and the terminal rendering of it.
package ui

import (
	"github.com/tanq16/siphon/internal/domain"
)

// Candidate is a playable stream a surface could offer to download.
type Candidate struct {
	Href        string `yaml:"href" json:"href"`
	Title       string `yaml:"title,omitempty" json:"title,omitempty"`
	EpisodeInfo string `yaml:"episode,omitempty" json:"episodeInfo,omitempty"`
	URL         string `yaml:"url,omitempty" json:"url,omitempty"`
}

func (c Candidate) key() string {
	return c.Href + "|" + c.URL
}

// Adapter is a surface that injects download affordances and renders item state.
type Adapter interface {
	// Offer presents a newly discovered candidate.
	Offer(c Candidate)
	// Render shows the latest state of an item.
	Render(item domain.Item)
	// Forget drops an item that no longer exists.
	Forget(id string)
}
