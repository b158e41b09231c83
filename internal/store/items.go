package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tanq16/siphon/internal/domain"
)

const itemColumns = `id, parent_id, anchor, title, episode_info, request_url, media_url, kind, status,
	progress, bytes_received, total_bytes, file_name, partial, created_at, completed_at, error`

// SaveItem writes the full record; every mutation of an item goes through here.
func (s *Store) SaveItem(ctx context.Context, item *domain.Item) error {
	var completed sql.NullInt64
	if !item.CompletedAt.IsZero() {
		completed = sql.NullInt64{Int64: item.CompletedAt.UnixNano(), Valid: true}
	}
	query := `INSERT OR REPLACE INTO items (` + itemColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		item.ID,
		item.ParentID,
		item.Anchor,
		item.Title,
		item.EpisodeInfo,
		item.RequestURL,
		item.MediaURL,
		string(item.Kind),
		string(item.Status),
		item.Progress,
		item.BytesReceived,
		item.TotalBytes,
		item.FileName,
		item.Partial,
		item.CreatedAt.UnixNano(),
		completed,
		item.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save item %s: %w", item.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.Item, error) {
	item := &domain.Item{}
	var kind, status string
	var created int64
	var completed sql.NullInt64
	err := row.Scan(
		&item.ID, &item.ParentID, &item.Anchor, &item.Title, &item.EpisodeInfo,
		&item.RequestURL, &item.MediaURL, &kind, &status, &item.Progress,
		&item.BytesReceived, &item.TotalBytes, &item.FileName, &item.Partial,
		&created, &completed, &item.Error,
	)
	if err != nil {
		return nil, err
	}
	item.Kind = domain.Kind(kind)
	if item.Status, err = domain.ParseStatus(status); err != nil {
		return nil, err
	}
	item.CreatedAt = time.Unix(0, created)
	if completed.Valid {
		item.CompletedAt = time.Unix(0, completed.Int64)
	}
	return item, nil
}

// GetItem returns nil, nil when no item has the id.
func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ? LIMIT 1`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch item: %w", err)
	}
	return item, nil
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]*domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListItems returns every item, oldest first.
func (s *Store) ListItems(ctx context.Context) ([]*domain.Item, error) {
	items, err := s.queryItems(ctx, `SELECT `+itemColumns+` FROM items ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// ActiveItems returns the items a restart has to pick up again.
func (s *Store) ActiveItems(ctx context.Context) ([]*domain.Item, error) {
	items, err := s.queryItems(ctx, `SELECT `+itemColumns+` FROM items
		WHERE status IN (?, ?, ?)
		ORDER BY created_at ASC, id ASC`,
		domain.StatusInitiated, domain.StatusProbing, domain.StatusDownloading)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active items: %w", err)
	}
	return items, nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
