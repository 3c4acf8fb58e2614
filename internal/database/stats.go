package database

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/thomaskoefod/hnpoll/pkg/models"
)

func (db *DB) RelevanceStats(ctx context.Context) (models.RelevanceStats, error) {
	var stats models.RelevanceStats
	query, args, err := sq.Select(
		"COUNT(*) AS total",
		"COUNT(relevance_score) AS scored",
		"COUNT(*) - COUNT(relevance_score) AS unscored",
		"COALESCE(AVG(relevance_score), 0) AS average",
		"COALESCE(MIN(relevance_score), 0) AS min",
		"COALESCE(MAX(relevance_score), 0) AS max",
	).From("stories").ToSql()
	if err != nil {
		return stats, fmt.Errorf("building relevance stats: %w", err)
	}
	if err := db.GetContext(ctx, &stats, query, args...); err != nil {
		return stats, persistErr("querying relevance stats", err)
	}
	return stats, nil
}

func (db *DB) ContentStats(ctx context.Context) (models.ContentStats, error) {
	var stats models.ContentStats
	query, args, err := sq.Select(
		fmt.Sprintf("COALESCE(SUM(content_state = %d), 0) AS not_fetched", models.ContentNotFetched),
		fmt.Sprintf("COALESCE(SUM(content_state = %d), 0) AS fetched", models.ContentFetched),
		fmt.Sprintf("COALESCE(SUM(content_state = %d), 0) AS errors", models.ContentError),
		fmt.Sprintf("COALESCE(SUM(content_state = %d), 0) AS unavailable", models.ContentUnavailable),
	).From("stories").ToSql()
	if err != nil {
		return stats, fmt.Errorf("building content stats: %w", err)
	}
	if err := db.GetContext(ctx, &stats, query, args...); err != nil {
		return stats, persistErr("querying content stats", err)
	}
	return stats, nil
}

// SyncStats counts delivered stories and scored ones at or above minRelevance
// still waiting for delivery.
func (db *DB) SyncStats(ctx context.Context, minRelevance int) (models.SyncStats, error) {
	var stats models.SyncStats
	query, args, err := sq.Select("COALESCE(SUM(readwise_synced = 1), 0) AS synced").
		Column(sq.Expr("COALESCE(SUM(readwise_synced = 0 AND relevance_score >= ?), 0) AS eligible", minRelevance)).
		From("stories").
		ToSql()
	if err != nil {
		return stats, fmt.Errorf("building sync stats: %w", err)
	}
	if err := db.GetContext(ctx, &stats, query, args...); err != nil {
		return stats, persistErr("querying sync stats", err)
	}

	meta, err := db.LoadRunMetadata(ctx)
	if err != nil {
		return stats, err
	}
	stats.LastSyncTime = meta.LastReadwiseSyncTime
	return stats, nil
}
