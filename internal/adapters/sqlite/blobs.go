// Package sqlite stores generated export files in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"redflag/internal/domain"
	"redflag/internal/ports"
)

var _ ports.BlobSink = (*BlobStore)(nil)

type BlobStore struct {
	db *sql.DB
}

// Open opens (or creates) the blob database at dsn. Pass ":memory:" for a
// throwaway store.
func Open(dsn string) (*BlobStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open blob db: %w", err)
	}
	if dsn == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS export_blobs (
		key TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		filename TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at DATETIME NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &BlobStore{db: db}, nil
}

func (s *BlobStore) Close() error { return s.db.Close() }

func (s *BlobStore) Put(ctx context.Context, b ports.Blob) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO export_blobs (key, content_type, filename, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.Key, b.ContentType, b.Filename, b.Data, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("put blob %s: %w", b.Key, err)
	}
	return nil
}

func (s *BlobStore) Get(ctx context.Context, key string) (*ports.Blob, error) {
	b := ports.Blob{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT content_type, filename, data, created_at FROM export_blobs WHERE key = ?`, key,
	).Scan(&b.ContentType, &b.Filename, &b.Data, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.KindNotFound, "export blob %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", key, err)
	}
	return &b, nil
}

// Prune deletes blobs created before cutoff and reports how many went.
func (s *BlobStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM export_blobs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
