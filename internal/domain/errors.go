package domain

import (
	"errors"
	"fmt"
)

// ErrClassification indicates no playable media URL could ever be found
var ErrClassification = errors.New("no playable media url found")

// ErrTransport indicates a manifest, segment or body fetch failed mid-transfer
var ErrTransport = errors.New("transport failure")

// ErrPermission indicates the storage capability was denied or revoked
var ErrPermission = errors.New("storage permission denied")

// ErrProbeTimeout indicates no media signature was observed within the probe budget
var ErrProbeTimeout = errors.New("probe timed out")

var ErrNotFound = errors.New("item not found")

var ErrInvalidTransition = errors.New("invalid status transition")

// Failure ties an error to its taxonomy class so callers can errors.Is on either.
type Failure struct {
	Class error
	Op    string
	Err   error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %v", f.Op, f.Class)
	}
	return fmt.Sprintf("%s: %v: %v", f.Op, f.Class, f.Err)
}

func (f *Failure) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Class}
	}
	return []error{f.Class, f.Err}
}

func Fail(class error, op string, err error) error {
	return &Failure{Class: class, Op: op, Err: err}
}

// Classify returns the taxonomy class of err, or nil when err carries none.
func Classify(err error) error {
	for _, class := range []error{ErrPermission, ErrClassification, ErrTransport} {
		if errors.Is(err, class) {
			return class
		}
	}
	if errors.Is(err, ErrProbeTimeout) {
		return ErrClassification
	}
	return nil
}
