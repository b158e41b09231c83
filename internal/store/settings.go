package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tanq16/siphon/internal/domain"
)

const rootHandleKey = "root_handle"

func (s *Store) SaveRoot(ctx context.Context, h domain.RootHandle) error {
	value, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to encode root handle: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)`,
		rootHandleKey, string(value), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save root handle: %w", err)
	}
	return nil
}

// LoadRoot reports false when no root was ever granted.
func (s *Store) LoadRoot(ctx context.Context) (domain.RootHandle, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, rootHandleKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RootHandle{}, false, nil
	}
	if err != nil {
		return domain.RootHandle{}, false, fmt.Errorf("failed to load root handle: %w", err)
	}
	var h domain.RootHandle
	if err := json.Unmarshal([]byte(value), &h); err != nil {
		return domain.RootHandle{}, false, fmt.Errorf("failed to decode root handle: %w", err)
	}
	return h, !h.IsZero(), nil
}

func (s *Store) ClearRoot(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, rootHandleKey)
	return err
}
