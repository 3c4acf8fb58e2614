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

var storyColumns = []string{
	"id", "title", "url", "author", "submitted_at", "item_type", "score", "comments", "body_text",
	"first_seen_at", "last_updated_at",
	"relevance_score", "score_error_type", "score_error_message",
	"content", "content_summary", "content_state", "error_type", "error_message", "error_status",
	"last_fetch_attempt_at",
	"readwise_synced", "readwise_sync_time", "last_verified_at",
}

type storyRow struct {
	ID                 int64          `db:"id"`
	Title              string         `db:"title"`
	URL                sql.NullString `db:"url"`
	Author             string         `db:"author"`
	SubmittedAt        int64          `db:"submitted_at"`
	ItemType           string         `db:"item_type"`
	Score              int            `db:"score"`
	Comments           int            `db:"comments"`
	BodyText           sql.NullString `db:"body_text"`
	FirstSeenAt        int64          `db:"first_seen_at"`
	LastUpdatedAt      int64          `db:"last_updated_at"`
	RelevanceScore     sql.NullInt64  `db:"relevance_score"`
	ScoreErrorType     sql.NullString `db:"score_error_type"`
	ScoreErrorMessage  sql.NullString `db:"score_error_message"`
	Content            sql.NullString `db:"content"`
	ContentSummary     sql.NullString `db:"content_summary"`
	ContentState       int            `db:"content_state"`
	ErrorType          sql.NullString `db:"error_type"`
	ErrorMessage       sql.NullString `db:"error_message"`
	ErrorStatus        sql.NullInt64  `db:"error_status"`
	LastFetchAttemptAt sql.NullInt64  `db:"last_fetch_attempt_at"`
	ReadwiseSynced     bool           `db:"readwise_synced"`
	ReadwiseSyncTime   sql.NullInt64  `db:"readwise_sync_time"`
	LastVerifiedAt     sql.NullInt64  `db:"last_verified_at"`
}

func (r storyRow) toModel() models.Story {
	s := models.Story{
		ID:                 r.ID,
		Title:              r.Title,
		URL:                r.URL.String,
		By:                 r.Author,
		Time:               time.Unix(r.SubmittedAt, 0).UTC(),
		Type:               r.ItemType,
		Score:              r.Score,
		Comments:           r.Comments,
		Text:               r.BodyText.String,
		FirstSeenAt:        time.Unix(r.FirstSeenAt, 0).UTC(),
		LastUpdatedAt:      time.Unix(r.LastUpdatedAt, 0).UTC(),
		Content:            r.Content.String,
		Summary:            r.ContentSummary.String,
		ContentState:       models.ContentState(r.ContentState),
		LastFetchAttemptAt: nullTime(r.LastFetchAttemptAt),
		Synced:             r.ReadwiseSynced,
		SyncedAt:           nullTime(r.ReadwiseSyncTime),
		LastVerifiedAt:     nullTime(r.LastVerifiedAt),
	}
	if r.RelevanceScore.Valid {
		v := int(r.RelevanceScore.Int64)
		s.Relevance = &v
	}
	if r.ScoreErrorType.Valid {
		s.ScoreError = &models.FetchError{Type: r.ScoreErrorType.String, Message: r.ScoreErrorMessage.String}
	}
	if s.ContentState == models.ContentError && r.ErrorType.Valid {
		s.LastError = &models.FetchError{
			Type:       r.ErrorType.String,
			Message:    r.ErrorMessage.String,
			HTTPStatus: int(r.ErrorStatus.Int64),
		}
	}
	return s
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpsertResult counts rows touched by SaveStories.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// SaveStories inserts new stories and refreshes score, comment count and
// lastUpdatedAt on known ones. When meta is non-nil the run metadata is
// written in the same transaction, so a watermark never lands without the
// batch it describes.
func (db *DB) SaveStories(ctx context.Context, stories []models.Story, meta *models.RunMetadata) (UpsertResult, error) {
	var res UpsertResult
	if len(stories) == 0 && meta == nil {
		return res, nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return res, persistErr("beginning story batch", err)
	}
	defer tx.Rollback()

	existing := make(map[int64]bool, len(stories))
	if len(stories) > 0 {
		ids := make([]int64, len(stories))
		for i, s := range stories {
			ids[i] = s.ID
		}
		query, args, err := sq.Select("id").From("stories").Where(sq.Eq{"id": ids}).ToSql()
		if err != nil {
			return res, fmt.Errorf("building existing-id query: %w", err)
		}
		var found []int64
		if err := tx.SelectContext(ctx, &found, query, args...); err != nil {
			return res, persistErr("querying existing stories", err)
		}
		for _, id := range found {
			existing[id] = true
		}
	}

	now := unix(db.now())
	for _, s := range stories {
		query, args, err := sq.Insert("stories").
			Columns("id", "title", "url", "author", "submitted_at", "item_type", "score", "comments",
				"body_text", "first_seen_at", "last_updated_at", "content", "content_summary", "content_state").
			Values(s.ID, s.Title, nullString(s.URL), s.By, unix(s.Time), s.Type, s.Score, s.Comments,
				nullString(s.Text), now, now, nullString(s.Content), nullString(s.Summary), int(s.ContentState)).
			Suffix("ON CONFLICT(id) DO UPDATE SET score = excluded.score, comments = excluded.comments, " +
				"last_updated_at = excluded.last_updated_at").
			ToSql()
		if err != nil {
			return res, fmt.Errorf("building upsert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return res, persistErr(fmt.Sprintf("upserting story %d", s.ID), err)
		}
		if existing[s.ID] {
			res.Updated++
		} else {
			res.Inserted++
			existing[s.ID] = true
		}
	}

	if meta != nil {
		if err := writeRunMetadata(ctx, tx, *meta); err != nil {
			return res, err
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, persistErr("committing story batch", err)
	}
	return res, nil
}

// GetStory returns ErrStoryNotFound when id is unknown.
func (db *DB) GetStory(ctx context.Context, id int64) (*models.Story, error) {
	query, args, err := sq.Select(storyColumns...).From("stories").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building story query: %w", err)
	}

	var row storyRow
	if err := db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStoryNotFound
		}
		return nil, persistErr("querying story", err)
	}
	s := row.toModel()
	return &s, nil
}

// StoryFilter narrows ListStories. Zero values disable a condition.
type StoryFilter struct {
	Since        time.Time
	MinScore     int
	MinRelevance int
	MinComments  int
	Scored       bool
	Unscored     bool
	Unsynced     bool
	Limit        int
}

func (f StoryFilter) apply(q sq.SelectBuilder) sq.SelectBuilder {
	if !f.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"submitted_at": unix(f.Since)})
	}
	if f.MinScore > 0 {
		q = q.Where(sq.GtOrEq{"score": f.MinScore})
	}
	if f.MinRelevance > 0 {
		q = q.Where(sq.GtOrEq{"relevance_score": f.MinRelevance})
	}
	if f.MinComments > 0 {
		q = q.Where(sq.GtOrEq{"comments": f.MinComments})
	}
	if f.Scored {
		q = q.Where(sq.NotEq{"relevance_score": nil})
	}
	if f.Unscored {
		q = q.Where(sq.Eq{"relevance_score": nil})
	}
	if f.Unsynced {
		q = q.Where(sq.Eq{"readwise_synced": 0})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	return q
}

// ListStories returns matching stories, newest first.
func (db *DB) ListStories(ctx context.Context, f StoryFilter) ([]models.Story, error) {
	q := f.apply(sq.Select(storyColumns...).From("stories")).OrderBy("submitted_at DESC", "id DESC")
	return db.selectStories(ctx, q)
}

// UnscoredStories returns stories still waiting for a relevance score.
func (db *DB) UnscoredStories(ctx context.Context, f StoryFilter) ([]models.Story, error) {
	f.Unscored = true
	f.Scored = false
	return db.ListStories(ctx, f)
}

// UnsyncedStories returns scored stories that have not been delivered yet.
func (db *DB) UnsyncedStories(ctx context.Context, f StoryFilter) ([]models.Story, error) {
	f.Scored = true
	f.Unscored = false
	f.Unsynced = true
	return db.ListStories(ctx, f)
}

func (db *DB) selectStories(ctx context.Context, q sq.SelectBuilder) ([]models.Story, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building story query: %w", err)
	}

	var rows []storyRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, persistErr("querying stories", err)
	}

	stories := make([]models.Story, len(rows))
	for i, r := range rows {
		stories[i] = r.toModel()
	}
	return stories, nil
}

// UpdateRelevance stores a relevance score. Without force an existing score is
// left untouched and false is returned.
func (db *DB) UpdateRelevance(ctx context.Context, id int64, score int, force bool) (bool, error) {
	q := sq.Update("stories").
		Set("relevance_score", score).
		Set("scored_at", unix(db.now())).
		Set("score_error_type", nil).
		Set("score_error_message", nil).
		Where(sq.Eq{"id": id})
	if !force {
		q = q.Where(sq.Eq{"relevance_score": nil})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("building relevance update: %w", err)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, persistErr("updating relevance score", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("reading affected rows", err)
	}
	return n > 0, nil
}

// RecordScoreError notes why scoring failed; the story stays unscored.
func (db *DB) RecordScoreError(ctx context.Context, id int64, fe *models.FetchError) error {
	if fe == nil {
		return nil
	}
	query, args, err := sq.Update("stories").
		Set("score_error_type", fe.Type).
		Set("score_error_message", fe.Message).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"relevance_score": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building score error update: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return persistErr("recording score error", err)
	}
	return nil
}

// ExtractionFilter selects stories eligible for content extraction.
type ExtractionFilter struct {
	Since        time.Time
	MinRelevance int
	Limit        int
	// RetryErrors makes every ERROR story eligible regardless of backoff.
	RetryErrors bool
	// ErrorBackoff is how long an ERROR story waits before it is retried.
	ErrorBackoff time.Duration
	// Force also re-attempts UNAVAILABLE stories.
	Force bool
}

func (db *DB) StoriesForExtraction(ctx context.Context, f ExtractionFilter) ([]models.Story, error) {
	eligible := sq.Or{sq.Eq{"content_state": int(models.ContentNotFetched)}}

	errorRetry := sq.And{sq.Eq{"content_state": int(models.ContentError)}}
	if !f.RetryErrors && !f.Force {
		cutoff := unix(db.now().Add(-f.ErrorBackoff))
		errorRetry = append(errorRetry, sq.Or{
			sq.Eq{"last_fetch_attempt_at": nil},
			sq.LtOrEq{"last_fetch_attempt_at": cutoff},
		})
	}
	eligible = append(eligible, errorRetry)

	if f.Force {
		eligible = append(eligible, sq.Eq{"content_state": int(models.ContentUnavailable)})
	}

	q := sq.Select(storyColumns...).From("stories").
		Where(sq.NotEq{"url": nil}).
		Where(sq.NotEq{"url": ""}).
		Where(eligible)
	q = StoryFilter{Since: f.Since, MinRelevance: f.MinRelevance, Limit: f.Limit}.apply(q)
	q = q.OrderBy("COALESCE(relevance_score, -1) DESC", "score DESC", "id DESC")

	return db.selectStories(ctx, q)
}

// ContentUpdate is what the extraction stage persists for one story.
type ContentUpdate struct {
	Content     string
	Summary     string
	State       models.ContentState
	Err         *models.FetchError
	AttemptedAt time.Time
}

// UpdateContent persists an extraction outcome. An UNAVAILABLE story is only
// overwritten when force is set; it reports whether a row changed.
func (db *DB) UpdateContent(ctx context.Context, id int64, u ContentUpdate, force bool) (bool, error) {
	q := sq.Update("stories").
		Set("content_state", int(u.State)).
		Set("last_fetch_attempt_at", unix(u.AttemptedAt))

	if u.State == models.ContentFetched {
		q = q.Set("content", nullString(u.Content)).Set("content_summary", nullString(u.Summary))
	}
	if u.State == models.ContentError && u.Err != nil {
		q = q.Set("error_type", u.Err.Type).
			Set("error_message", u.Err.Message).
			Set("error_status", u.Err.HTTPStatus)
	} else {
		q = q.Set("error_type", nil).Set("error_message", nil).Set("error_status", nil)
	}

	q = q.Where(sq.Eq{"id": id})
	if !force {
		q = q.Where(sq.NotEq{"content_state": int(models.ContentUnavailable)})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("building content update: %w", err)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, persistErr("updating content", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("reading affected rows", err)
	}
	return n > 0, nil
}

// MarkSynced flags stories as present in the read-later service.
func (db *DB) MarkSynced(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sq.Update("stories").
		Set("readwise_synced", 1).
		Set("readwise_sync_time", unix(db.now())).
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building sync update: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return persistErr("marking stories synced", err)
	}
	return nil
}

// StoriesToVerify returns up to limit story ids, least recently verified
// first, skipping ids in exclude.
func (db *DB) StoriesToVerify(ctx context.Context, limit int, exclude []int64) ([]int64, error) {
	q := sq.Select("id").From("stories")
	if len(exclude) > 0 {
		q = q.Where(sq.NotEq{"id": exclude})
	}
	query, args, err := q.OrderBy("COALESCE(last_verified_at, 0) ASC", "id ASC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building verify query: %w", err)
	}

	var ids []int64
	if err := db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, persistErr("querying stories to verify", err)
	}
	return ids, nil
}

func (db *DB) MarkVerified(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sq.Update("stories").
		Set("last_verified_at", unix(db.now())).
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building verify update: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return persistErr("marking stories verified", err)
	}
	return nil
}

// DeleteStories removes stories and returns how many rows went away.
func (db *DB) DeleteStories(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sq.Delete("stories").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building delete: %w", err)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, persistErr("deleting stories", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("reading affected rows", err)
	}
	return n, nil
}
