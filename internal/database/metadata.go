package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/thomaskoefod/hnpoll/pkg/models"
)

const (
	MetaLastPollTime         = "last_poll_time"
	MetaLastOldestID         = "last_oldest_id"
	MetaLastReadwiseSyncTime = "last_readwise_sync_time"
)

type metaRow struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

// LoadRunMetadata returns the zero value on a fresh database.
func (db *DB) LoadRunMetadata(ctx context.Context) (models.RunMetadata, error) {
	var meta models.RunMetadata

	query, args, err := sq.Select("key", "value").From("metadata").ToSql()
	if err != nil {
		return meta, fmt.Errorf("building metadata query: %w", err)
	}
	var rows []metaRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return meta, persistErr("querying metadata", err)
	}

	for _, r := range rows {
		switch r.Key {
		case MetaLastPollTime:
			if t, err := time.Parse(time.RFC3339, r.Value); err == nil {
				meta.LastPollTime = &t
			}
		case MetaLastOldestID:
			if id, err := strconv.ParseInt(r.Value, 10, 64); err == nil {
				meta.LastOldestID = id
			}
		case MetaLastReadwiseSyncTime:
			if t, err := time.Parse(time.RFC3339, r.Value); err == nil {
				meta.LastReadwiseSyncTime = &t
			}
		}
	}
	return meta, nil
}

// SetMetadata upserts a single key.
func (db *DB) SetMetadata(ctx context.Context, key, value string) error {
	return setMeta(ctx, db.DB, key, value)
}

// RecordSyncTime stores the time of the last delivery run.
func (db *DB) RecordSyncTime(ctx context.Context, t time.Time) error {
	return db.SetMetadata(ctx, MetaLastReadwiseSyncTime, t.UTC().Format(time.RFC3339))
}

func writeRunMetadata(ctx context.Context, ex sqlx.ExecerContext, meta models.RunMetadata) error {
	if meta.LastPollTime != nil {
		if err := setMeta(ctx, ex, MetaLastPollTime, meta.LastPollTime.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	if meta.LastOldestID > 0 {
		if err := setMeta(ctx, ex, MetaLastOldestID, strconv.FormatInt(meta.LastOldestID, 10)); err != nil {
			return err
		}
	}
	return nil
}

func setMeta(ctx context.Context, ex sqlx.ExecerContext, key, value string) error {
	query, args, err := sq.Insert("metadata").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value").
		ToSql()
	if err != nil {
		return fmt.Errorf("building metadata upsert: %w", err)
	}
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return persistErr("writing metadata "+key, err)
	}
	return nil
}
