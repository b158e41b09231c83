package domain

import "fmt"

// Status is the lifecycle state of a DownloadItem.
type Status string

const (
	StatusInitiated   Status = "initiated"
	StatusProbing     Status = "probing"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusInitiated:   {StatusProbing, StatusCancelled},
	StatusProbing:     {StatusDownloading, StatusFailed, StatusCancelled},
	StatusDownloading: {StatusCompleted, StatusFailed, StatusCancelled},
}

func (s Status) String() string {
	return string(s)
}

// IsActive reports whether an item in this state still owns work.
func (s Status) IsActive() bool {
	return s == StatusInitiated || s == StatusProbing || s == StatusDownloading
}

// IsTerminal reports whether the state can never be left again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) Valid() bool {
	return s.IsActive() || s.IsTerminal()
}

// CanTransition reports whether from -> to is an edge of the item state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanReach reports whether to lies on some path of the state machine from from.
// Observers that miss intermediate events use it to accept a jump forward.
func CanReach(from, to Status) bool {
	seen := map[Status]bool{from: true}
	queue := []Status{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range transitions[cur] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}
