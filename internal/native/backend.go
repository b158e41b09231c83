// Package native describes the external download backend the engine defers to
// when one is present, and a client for a remote siphon server acting as one.
package native

import (
	"context"

	"github.com/tanq16/siphon/internal/domain"
)

// Backend is the contract of an external download manager. Scope ids group
// records the same way domain.Scope does.
type Backend interface {
	Start(ctx context.Context, payload domain.Item) (string, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, scope string) ([]domain.Item, error)
	StorageStats(ctx context.Context, scope string) (domain.StorageStats, error)
	Quota(ctx context.Context, scope string) (int64, error)
	SetQuota(ctx context.Context, scope string, quota int64) error
	SmartDefaults(ctx context.Context, scope string) (domain.SmartDefaults, error)
	SetSmartDefaults(ctx context.Context, scope string, d domain.SmartDefaults) error
}
