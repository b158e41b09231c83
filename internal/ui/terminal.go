package ui

import (
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/output"
)

// Terminal renders items through the output manager and submits offered
// candidates when auto-download is on.
type Terminal struct {
	manager *output.Manager
	view    *View
	submit  func(Candidate)
}

func NewTerminal(manager *output.Manager, submit func(Candidate)) *Terminal {
	return &Terminal{manager: manager, submit: submit}
}

// Attach lets the adapter read transfer details from the view it renders for.
func (t *Terminal) Attach(v *View) {
	t.view = v
}

func (t *Terminal) Offer(c Candidate) {
	if c.Title != "" {
		t.manager.Note("Found " + c.Title)
	} else {
		t.manager.Note("Found " + c.Href)
	}
	if t.submit != nil {
		t.submit(c)
	}
}

func (t *Terminal) Render(item domain.Item) {
	t.manager.Update(item)
	if t.view == nil || item.Status != domain.StatusDownloading {
		return
	}
	if msg, ok := t.view.Transfer(item.ID); ok {
		t.manager.SetTransfer(item.ID, msg.ETA, msg.SegmentsDone, msg.SegmentsTotal)
	}
}

func (t *Terminal) Forget(id string) {
	t.manager.Remove(id)
}
