package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/thomaskoefod/hnpoll/pkg/models"
)

// DomainCache keeps per-domain relevance verdicts in the domain_cache table.
// Entries live until Invalidate or InvalidateAll is called.
type DomainCache struct {
	db *DB
}

func NewDomainCache(db *DB) *DomainCache {
	return &DomainCache{db: db}
}

type verdictRow struct {
	Domain    string `db:"domain"`
	Score     int    `db:"score"`
	Samples   int    `db:"samples"`
	Pinned    bool   `db:"pinned"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r verdictRow) toModel() models.DomainVerdict {
	return models.DomainVerdict{
		Domain:    r.Domain,
		Score:     r.Score,
		Samples:   r.Samples,
		Pinned:    r.Pinned,
		UpdatedAt: time.Unix(r.UpdatedAt, 0).UTC(),
	}
}

var verdictColumns = []string{"domain", "score", "samples", "pinned", "updated_at"}

func (c *DomainCache) Lookup(ctx context.Context, domain string) (models.DomainVerdict, bool, error) {
	query, args, err := sq.Select(verdictColumns...).From("domain_cache").Where(sq.Eq{"domain": domain}).ToSql()
	if err != nil {
		return models.DomainVerdict{}, false, fmt.Errorf("building cache lookup: %w", err)
	}

	var row verdictRow
	if err := c.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DomainVerdict{}, false, nil
		}
		return models.DomainVerdict{}, false, persistErr("looking up domain verdict", err)
	}
	return row.toModel(), true, nil
}

// Record folds a freshly computed score into the domain's running average.
// Pinned verdicts keep their score.
func (c *DomainCache) Record(ctx context.Context, domain string, score int) error {
	query, args, err := sq.Insert("domain_cache").
		Columns("domain", "score", "total", "samples", "pinned", "updated_at").
		Values(domain, score, score, 1, 0, unix(c.db.now())).
		Suffix("ON CONFLICT(domain) DO UPDATE SET " +
			"total = total + excluded.total, " +
			"samples = samples + 1, " +
			"score = CASE WHEN pinned = 1 THEN score " +
			"ELSE CAST(ROUND((total + excluded.total) * 1.0 / (samples + 1)) AS INTEGER) END, " +
			"updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building cache record: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return persistErr("recording domain verdict", err)
	}
	return nil
}

// Pin fixes a domain's verdict; pinned verdicts always short-circuit scoring.
func (c *DomainCache) Pin(ctx context.Context, domain string, score int) error {
	query, args, err := sq.Insert("domain_cache").
		Columns("domain", "score", "total", "samples", "pinned", "updated_at").
		Values(domain, score, 0, 0, 1, unix(c.db.now())).
		Suffix("ON CONFLICT(domain) DO UPDATE SET score = excluded.score, pinned = 1, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building cache pin: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return persistErr("pinning domain verdict", err)
	}
	return nil
}

func (c *DomainCache) List(ctx context.Context) ([]models.DomainVerdict, error) {
	query, args, err := sq.Select(verdictColumns...).From("domain_cache").OrderBy("samples DESC", "domain ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building cache list: %w", err)
	}
	var rows []verdictRow
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, persistErr("listing domain verdicts", err)
	}
	out := make([]models.DomainVerdict, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// Invalidate drops one domain and reports whether it existed.
func (c *DomainCache) Invalidate(ctx context.Context, domain string) (bool, error) {
	query, args, err := sq.Delete("domain_cache").Where(sq.Eq{"domain": domain}).ToSql()
	if err != nil {
		return false, fmt.Errorf("building cache delete: %w", err)
	}
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, persistErr("invalidating domain verdict", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("reading affected rows", err)
	}
	return n > 0, nil
}

func (c *DomainCache) InvalidateAll(ctx context.Context) (int64, error) {
	query, args, err := sq.Delete("domain_cache").ToSql()
	if err != nil {
		return 0, fmt.Errorf("building cache delete: %w", err)
	}
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, persistErr("clearing domain cache", err)
	}
	return res.RowsAffected()
}
