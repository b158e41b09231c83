package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tanq16/siphon/internal/domain"
)

func TestProgressBar(t *testing.T) {
	tests := []struct {
		percent float64
		filled  int
		label   string
	}{
		{0, 0, "0.0%"},
		{50, 5, "50.0%"},
		{150, 10, "100.0%"},
		{-3, 0, "0.0%"},
	}
	for _, tt := range tests {
		bar := ProgressBar(tt.percent, 10)
		if got := strings.Count(bar, StyleSymbols["hline"]); got != tt.filled {
			t.Errorf("ProgressBar(%v) filled %d, want %d", tt.percent, got, tt.filled)
		}
		if !strings.Contains(bar, tt.label) {
			t.Errorf("ProgressBar(%v) = %q, missing %q", tt.percent, bar, tt.label)
		}
	}
}

func TestRenderOrdersActiveBeforeFinished(t *testing.T) {
	m := NewManager(&bytes.Buffer{}, false)
	m.Update(domain.Item{ID: "a", Title: "Done", Status: domain.StatusCompleted, FileName: "Done.mp4", BytesReceived: 2048})
	m.Update(domain.Item{ID: "b", Title: "Going", Status: domain.StatusDownloading, Progress: 40, BytesReceived: 400, TotalBytes: 1000})
	eta := 12.0
	m.SetTransfer("b", &eta, 0, 0)
	m.Update(domain.Item{ID: "c", Title: "Looking", Status: domain.StatusProbing})

	lines := m.Render(100)
	if len(lines) != 4 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.Contains(lines[0], "Downloading Going") || !strings.Contains(lines[1], "12s left") {
		t.Errorf("active rows = %q", lines[:2])
	}
	if !strings.Contains(lines[2], "Looking for media") || !strings.Contains(lines[3], "Saved Done.mp4 (2.0 KiB)") {
		t.Errorf("rows = %q", lines[2:])
	}
	if short := m.Render(3); len(short) != 3 || !strings.Contains(short[2], "Looking") {
		t.Errorf("trimmed frame = %q", short)
	}
	if m.Pending() != 2 {
		t.Errorf("Pending = %d", m.Pending())
	}
}

func TestSummaryListsErrorsOnce(t *testing.T) {
	var out bytes.Buffer
	m := NewManager(&out, false)
	failed := domain.Item{ID: "x", Title: "Broken", Status: domain.StatusFailed, Error: "transport failure"}
	m.Update(failed)
	m.Update(failed)
	m.Update(domain.Item{ID: "y", Title: "Fine", Status: domain.StatusCompleted, FileName: "Fine.ts"})
	m.ShowSummary()
	text := out.String()
	if !strings.Contains(text, "Completed 1 of 2") || !strings.Contains(text, "Failed 1 of 2") {
		t.Errorf("summary = %q", text)
	}
	if strings.Count(text, "Error: transport failure") != 1 {
		t.Errorf("errors listed %d times", strings.Count(text, "Error: transport failure"))
	}
}
