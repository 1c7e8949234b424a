package service

import (
	"context"
	"errors"
	"math"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldscope/fieldscope/internal/clock"
	"github.com/fieldscope/fieldscope/internal/config"
	obsmetrics "github.com/fieldscope/fieldscope/internal/observability/metrics"
	"github.com/fieldscope/fieldscope/internal/tier"
	usagedomain "github.com/fieldscope/fieldscope/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	TierSvc tier.Service
	Quotas  *config.QuotaConfigHolder
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	tierSvc tier.Service
	quotas  *config.QuotaConfigHolder
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		tierSvc: p.TierSvc,
		quotas:  p.Quotas,
	}
}

func (s *Service) Record(ctx context.Context, userID snowflake.ID, resource usagedomain.Resource) error {
	if !resource.Valid() {
		return usagedomain.ErrInvalidResource
	}
	window, err := s.CycleWindow(ctx, userID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.incrementCounter(ctx, tx, userID, resource, window)
	})
	if err != nil {
		return err
	}

	obsmetrics.Pipeline().IncUsageIncrement(string(resource))
	return nil
}

func (s *Service) CheckAndRecord(ctx context.Context, userID snowflake.ID, resource usagedomain.Resource) error {
	if !resource.Valid() {
		return usagedomain.ErrInvalidResource
	}

	planTier, err := s.tierSvc.ResolveTier(ctx, userID)
	if err != nil {
		return err
	}
	limit := s.limitFor(string(planTier), resource)

	window, err := s.CycleWindow(ctx, userID)
	if err != nil {
		return err
	}

	var quotaErr *usagedomain.QuotaExceededError
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.incrementCounter(ctx, tx, userID, resource, window); err != nil {
			return err
		}

		var row usagedomain.UsageCounter
		if err := tx.Where(
			"user_id = ? AND resource = ? AND cycle_start = ?",
			userID, resource, window.Start,
		).Take(&row).Error; err != nil {
			return err
		}

		if row.Count > limit {
			quotaErr = &usagedomain.QuotaExceededError{
				Resource: resource,
				Tier:     string(planTier),
				Limit:    limit,
				Used:     row.Count - 1,
				ResetAt:  window.End,
			}
			return quotaErr
		}
		return nil
	})
	if quotaErr != nil {
		obsmetrics.Pipeline().IncQuotaDenial(string(resource), string(planTier))
		return quotaErr
	}
	if err != nil {
		return err
	}

	obsmetrics.Pipeline().IncUsageIncrement(string(resource))
	return nil
}

func (s *Service) CurrentUsage(ctx context.Context, userID snowflake.ID, resource usagedomain.Resource) (int64, error) {
	if !resource.Valid() {
		return 0, usagedomain.ErrInvalidResource
	}
	window, err := s.CycleWindow(ctx, userID)
	if err != nil {
		return 0, err
	}
	return s.countFor(ctx, userID, resource, window)
}

func (s *Service) CanPerform(ctx context.Context, userID snowflake.ID, resource usagedomain.Resource) (bool, error) {
	if !resource.Valid() {
		return false, usagedomain.ErrInvalidResource
	}

	planTier, err := s.tierSvc.ResolveTier(ctx, userID)
	if err != nil {
		return false, err
	}
	limit := s.limitFor(string(planTier), resource)

	used, err := s.CurrentUsage(ctx, userID, resource)
	if err != nil {
		return false, err
	}
	return used < limit, nil
}

func (s *Service) CycleWindow(ctx context.Context, userID snowflake.ID) (usagedomain.Window, error) {
	if userID == 0 {
		return usagedomain.Window{}, usagedomain.ErrInvalidUser
	}
	user, err := s.tierSvc.GetUser(ctx, userID)
	if err != nil {
		return usagedomain.Window{}, err
	}
	return usagedomain.CycleWindowAt(user.BillingAnchor(), s.clock.Now()), nil
}

// limitFor maps a negative configured limit to the unlimited sentinel so
// the comparison path stays uniform across tiers.
func (s *Service) limitFor(planTier string, resource usagedomain.Resource) int64 {
	limit := s.quotas.Current().Limit(planTier, string(resource))
	if limit < 0 {
		return math.MaxInt64
	}
	return limit
}

func (s *Service) countFor(ctx context.Context, userID snowflake.ID, resource usagedomain.Resource, window usagedomain.Window) (int64, error) {
	var row usagedomain.UsageCounter
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND resource = ? AND cycle_start = ?", userID, resource, window.Start).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return row.Count, nil
}

// incrementCounter upserts the (user, resource, cycle) row and bumps its
// count by one. The conflict target serializes concurrent writers.
func (s *Service) incrementCounter(ctx context.Context, tx *gorm.DB, userID snowflake.ID, resource usagedomain.Resource, window usagedomain.Window) error {
	now := s.clock.Now()
	counter := &usagedomain.UsageCounter{
		ID:         s.genID.Generate(),
		UserID:     userID,
		Resource:   resource,
		CycleStart: window.Start,
		CycleEnd:   window.End,
		Count:      1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "resource"}, {Name: "cycle_start"}},
		DoUpdates: clause.Assignments(map[string]any{
			"count":      gorm.Expr("count + 1"),
			"updated_at": now,
		}),
	}).Create(counter).Error
}
