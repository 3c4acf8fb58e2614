package readwise

import (
	"context"
	"time"

	"github.com/thomaskoefod/hnpoll/internal/apperr"
	"github.com/thomaskoefod/hnpoll/internal/logger"
	"github.com/thomaskoefod/hnpoll/pkg/models"
)

// Service is the read-later API the syncer pushes to.
type Service interface {
	ListURLs(ctx context.Context) (map[string]struct{}, error)
	Save(ctx context.Context, doc Document) error
}

type Store interface {
	MarkSynced(ctx context.Context, ids ...int64) error
	RecordSyncTime(ctx context.Context, t time.Time) error
}

// Prober reports whether a story still exists upstream.
type Prober interface {
	ItemExists(ctx context.Context, id int64) (bool, error)
}

type SyncOptions struct {
	MaxToSync    int
	VerifyExists bool
	DryRun       bool
}

type Syncer struct {
	service Service
	store   Store
	prober  Prober
	log     logger.Logger
	now     func() time.Time
}

// NewSyncer wires a syncer. prober may be nil when existence checks are off.
func NewSyncer(service Service, store Store, prober Prober, log logger.Logger) *Syncer {
	return &Syncer{
		service: service,
		store:   store,
		prober:  prober,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Sync delivers candidates in the given order. Candidates already present in
// Reader are counted as skipped and marked synced without a save; at most
// MaxToSync new documents are saved. Only store failures abort the run.
func (s *Syncer) Sync(ctx context.Context, candidates []models.RankedStory, opts SyncOptions) (models.SyncResult, error) {
	var res models.SyncResult

	existing, err := s.service.ListURLs(ctx)
	if err != nil {
		return res, err
	}

	attempted := 0
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		target := c.DeliveryURL()

		if _, ok := existing[target]; ok {
			res.Skipped++
			s.log.Debug("already in reader, skipping", logger.StoryID(c.ID), logger.String("url", target))
			if !opts.DryRun {
				if err := s.store.MarkSynced(ctx, c.ID); err != nil {
					return res, err
				}
			}
			continue
		}
		if opts.MaxToSync > 0 && attempted >= opts.MaxToSync {
			continue
		}
		attempted++

		if opts.VerifyExists && s.prober != nil {
			alive, err := s.prober.ItemExists(ctx, c.ID)
			if err != nil || !alive {
				res.Failed++
				s.log.Warn("story gone or unverifiable, not syncing",
					logger.StoryID(c.ID), logger.Stage("sync"), logger.Error(err))
				continue
			}
		}

		if opts.DryRun {
			res.Synced++
			existing[target] = struct{}{}
			continue
		}

		if err := s.service.Save(ctx, Document{URL: target, Title: c.Title}); err != nil {
			res.Failed++
			s.log.Warn("save failed",
				logger.StoryID(c.ID),
				logger.Stage("sync"),
				logger.String("kind", apperr.KindOf(err).String()),
				logger.Error(err))
			continue
		}
		if err := s.store.MarkSynced(ctx, c.ID); err != nil {
			return res, err
		}
		existing[target] = struct{}{}
		res.Synced++
		s.log.Info("synced to reader", logger.StoryID(c.ID), logger.Float64("combined", c.Combined))
	}

	if !opts.DryRun {
		if err := s.store.RecordSyncTime(ctx, s.now()); err != nil {
			return res, err
		}
	}
	return res, nil
}
