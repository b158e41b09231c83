package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tanq16/siphon/internal/domain"
)

// Quota returns the byte quota of scope; zero means unlimited.
func (s *Store) Quota(ctx context.Context, scope string) (int64, error) {
	var quota int64
	err := s.db.QueryRowContext(ctx, `SELECT quota_bytes FROM profile_settings WHERE scope_id = ?`, scope).Scan(&quota)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load quota: %w", err)
	}
	return quota, nil
}

func (s *Store) SetQuota(ctx context.Context, scope string, quota int64) error {
	if quota < 0 {
		return fmt.Errorf("quota must not be negative")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO profile_settings (scope_id, quota_bytes) VALUES (?, ?)
		ON CONFLICT(scope_id) DO UPDATE SET quota_bytes = excluded.quota_bytes`, scope, quota)
	if err != nil {
		return fmt.Errorf("failed to save quota: %w", err)
	}
	return nil
}

func (s *Store) SmartDefaults(ctx context.Context, scope string) (domain.SmartDefaults, error) {
	var smart, autoDelete int
	err := s.db.QueryRowContext(ctx, `SELECT smart_download_default, auto_delete_default FROM profile_settings WHERE scope_id = ?`, scope).Scan(&smart, &autoDelete)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SmartDefaults{}, nil
	}
	if err != nil {
		return domain.SmartDefaults{}, fmt.Errorf("failed to load smart defaults: %w", err)
	}
	return domain.SmartDefaults{SmartDownload: smart != 0, AutoDelete: autoDelete != 0}, nil
}

func (s *Store) SetSmartDefaults(ctx context.Context, scope string, d domain.SmartDefaults) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO profile_settings (scope_id, smart_download_default, auto_delete_default) VALUES (?, ?, ?)
		ON CONFLICT(scope_id) DO UPDATE SET smart_download_default = excluded.smart_download_default, auto_delete_default = excluded.auto_delete_default`,
		scope, boolInt(d.SmartDownload), boolInt(d.AutoDelete))
	if err != nil {
		return fmt.Errorf("failed to save smart defaults: %w", err)
	}
	return nil
}

// StorageStats sums the completed items of scope.
func (s *Store) StorageStats(ctx context.Context, scope string) (domain.StorageStats, error) {
	items, err := s.ListItems(ctx)
	if err != nil {
		return domain.StorageStats{}, err
	}
	var stats domain.StorageStats
	for _, it := range items {
		if it.Status != domain.StatusCompleted || !it.InScope(scope) {
			continue
		}
		stats.Count++
		stats.TotalBytes += it.BytesReceived
	}
	return stats, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
