package domain

import (
	"errors"
	"testing"
	"time"
)

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status   Status
		active   bool
		terminal bool
	}{
		{StatusInitiated, true, false},
		{StatusProbing, true, false},
		{StatusDownloading, true, false},
		{StatusCompleted, false, true},
		{StatusFailed, false, true},
		{StatusCancelled, false, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsActive(); got != tt.active {
			t.Errorf("%s.IsActive() = %v, want %v", tt.status, got, tt.active)
		}
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusInitiated, StatusProbing}:     true,
		{StatusInitiated, StatusCancelled}:   true,
		{StatusProbing, StatusDownloading}:   true,
		{StatusProbing, StatusFailed}:        true,
		{StatusProbing, StatusCancelled}:     true,
		{StatusDownloading, StatusCompleted}: true,
		{StatusDownloading, StatusFailed}:    true,
		{StatusDownloading, StatusCancelled}: true,
	}
	all := []Status{StatusInitiated, StatusProbing, StatusDownloading, StatusCompleted, StatusFailed, StatusCancelled}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestItemTransitionTerminalIsFinal(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	it := &Item{ID: "a", Status: StatusInitiated}
	for _, next := range []Status{StatusProbing, StatusDownloading, StatusCompleted} {
		if err := it.Transition(next, now); err != nil {
			t.Fatalf("Transition(%s): %v", next, err)
		}
	}
	if !it.CompletedAt.Equal(now) {
		t.Errorf("CompletedAt = %v, want %v", it.CompletedAt, now)
	}
	for _, next := range []Status{StatusInitiated, StatusProbing, StatusDownloading, StatusFailed, StatusCancelled, StatusCompleted} {
		err := it.Transition(next, now)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Transition(%s) from completed: got %v, want ErrInvalidTransition", next, err)
		}
	}
}

func TestFailureClass(t *testing.T) {
	err := Fail(ErrTransport, "transport/hls", errors.New("status 500"))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("errors.Is(err, ErrTransport) = false")
	}
	if Classify(err) != ErrTransport {
		t.Errorf("Classify = %v", Classify(err))
	}
	timeout := Fail(ErrProbeTimeout, "probe", nil)
	if Classify(timeout) != ErrClassification {
		t.Errorf("probe timeout should classify as classification failure, got %v", Classify(timeout))
	}
}

func TestParseRootHandle(t *testing.T) {
	h, err := ParseRootHandle("s3://media-bucket/shows/")
	if err != nil {
		t.Fatal(err)
	}
	if h.Scheme != RootS3 || h.Location != "media-bucket/shows/" {
		t.Errorf("unexpected handle %+v", h)
	}
	if h.String() != "s3://media-bucket/shows/" {
		t.Errorf("String() = %q", h.String())
	}
	if _, err := ParseRootHandle("s3:///nobucket"); err == nil {
		t.Error("expected error for missing bucket")
	}
	local, err := ParseRootHandle(t.TempDir())
	if err != nil || local.Scheme != RootLocal {
		t.Errorf("local handle = %+v, %v", local, err)
	}
}

func TestCanReach(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusInitiated, StatusDownloading, true},
		{StatusInitiated, StatusCompleted, true},
		{StatusInitiated, StatusFailed, true},
		{StatusProbing, StatusCompleted, true},
		{StatusDownloading, StatusProbing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCancelled, StatusDownloading, false},
	}
	for _, tt := range tests {
		if got := CanReach(tt.from, tt.to); got != tt.want {
			t.Errorf("CanReach(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
