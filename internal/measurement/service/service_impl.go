package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldscope/fieldscope/internal/clock"
	enrichmentdomain "github.com/fieldscope/fieldscope/internal/enrichment/domain"
	measurementdomain "github.com/fieldscope/fieldscope/internal/measurement/domain"
	usagedomain "github.com/fieldscope/fieldscope/internal/usage/domain"
	"github.com/fieldscope/fieldscope/pkg/db/pagination"
	"github.com/fieldscope/fieldscope/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// clockSkewTolerance allows device clocks to run slightly ahead.
const clockSkewTolerance = 5 * time.Minute

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	UsageSvc usagedomain.Service
	Enricher enrichmentdomain.Trigger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	usageSvc usagedomain.Service
	enricher enrichmentdomain.Trigger

	measurementrepo repository.Repository[measurementdomain.Measurement]
}

func NewService(p ServiceParam) measurementdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("measurement.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		usageSvc: p.UsageSvc,
		enricher: p.Enricher,

		measurementrepo: repository.ProvideStore[measurementdomain.Measurement](p.DB),
	}
}

// Create gates the data-point quota, persists the measurement and
// schedules enrichment. The enrichment trigger is explicit here so the
// side effect is visible in the ingestion path.
func (s *Service) Create(ctx context.Context, req measurementdomain.CreateRequest) (*measurementdomain.Measurement, error) {
	userID, err := parseID(req.UserID, measurementdomain.ErrInvalidUser)
	if err != nil {
		return nil, err
	}
	campaignID, err := parseID(req.CampaignID, measurementdomain.ErrInvalidCampaign)
	if err != nil {
		return nil, err
	}
	metricID, err := parseID(req.MetricID, measurementdomain.ErrInvalidMetric)
	if err != nil {
		return nil, err
	}

	// Latitude and longitude must be both present or both absent.
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return nil, measurementdomain.ErrInvalidLocation
	}

	now := s.clock.Now()
	collectedAt := req.CollectedAt
	if collectedAt.IsZero() {
		collectedAt = now
	}
	if collectedAt.After(now.Add(clockSkewTolerance)) {
		return nil, measurementdomain.ErrInvalidCollectedAt
	}

	if err := s.usageSvc.CheckAndRecord(ctx, userID, usagedomain.ResourceDataPoints); err != nil {
		return nil, err
	}

	m := &measurementdomain.Measurement{
		ID:          s.genID.Generate(),
		UserID:      userID,
		CampaignID:  campaignID,
		MetricID:    metricID,
		Value:       req.Value,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		AccuracyM:   req.AccuracyM,
		CollectedAt: collectedAt.UTC(),
		Status:      measurementdomain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.measurementrepo.Create(ctx, m); err != nil {
		return nil, err
	}

	if s.enricher != nil {
		s.enricher.Enqueue(m.ID)
	}

	return m, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*measurementdomain.Measurement, error) {
	m, err := s.measurementrepo.FindOne(ctx, &measurementdomain.Measurement{ID: id})
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, measurementdomain.ErrNotFound
	}
	return m, nil
}

func (s *Service) List(ctx context.Context, req measurementdomain.ListRequest) (measurementdomain.ListResponse, error) {
	filter := &measurementdomain.Measurement{}
	if req.CampaignID != "" {
		campaignID, err := parseID(req.CampaignID, measurementdomain.ErrInvalidCampaign)
		if err != nil {
			return measurementdomain.ListResponse{}, err
		}
		filter.CampaignID = campaignID
	}
	if req.Status != "" {
		filter.Status = measurementdomain.Status(req.Status)
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	opts := []repository.QueryOption{
		repository.WithOrder("created_at DESC, id DESC"),
		repository.WithLimit(pageSize + 1),
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err == nil && cursor.CreatedAt != "" {
			// Bind as time.Time so every dialect compares timestamps
			// instead of strings. The id tie-breaker matches the
			// created_at DESC, id DESC order for rows sharing a timestamp.
			if before, perr := time.Parse(time.RFC3339Nano, cursor.CreatedAt); perr == nil {
				if cursorID, ierr := snowflake.ParseString(cursor.ID); ierr == nil && cursorID != 0 {
					opts = append(opts, repository.WithCondition(
						"(created_at < ? OR (created_at = ? AND id < ?))", before, before, cursorID))
				} else {
					opts = append(opts, repository.WithCondition("created_at < ?", before))
				}
			}
		}
	}

	items, err := s.measurementrepo.Find(ctx, filter, opts...)
	if err != nil {
		return measurementdomain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildPageInfo(items, pageSize, func(m *measurementdomain.Measurement) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        m.ID.String(),
			CreatedAt: m.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	measurements := make([]measurementdomain.Measurement, 0, len(items))
	for _, item := range items {
		measurements = append(measurements, *item)
	}

	return measurementdomain.ListResponse{
		PageInfo:     pageInfo,
		Measurements: measurements,
	}, nil
}

func (s *Service) Review(ctx context.Context, req measurementdomain.ReviewRequest) (*measurementdomain.Measurement, error) {
	id, err := parseID(req.MeasurementID, measurementdomain.ErrNotFound)
	if err != nil {
		return nil, err
	}
	reviewer := strings.TrimSpace(req.ReviewerID)
	if reviewer == "" {
		return nil, measurementdomain.ErrInvalidReviewer
	}

	target := measurementdomain.StatusRejected
	if req.Approve {
		target = measurementdomain.StatusApproved
	}

	return s.transition(ctx, id, target, &reviewer)
}

func (s *Service) ResetReview(ctx context.Context, id snowflake.ID) (*measurementdomain.Measurement, error) {
	return s.transition(ctx, id, measurementdomain.StatusPending, nil)
}

func (s *Service) transition(ctx context.Context, id snowflake.ID, target measurementdomain.Status, reviewer *string) (*measurementdomain.Measurement, error) {
	var updated *measurementdomain.Measurement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.measurementrepo.WithTrx(tx)
		m, err := repo.FindOne(ctx, &measurementdomain.Measurement{ID: id})
		if err != nil {
			return err
		}
		if m == nil {
			return measurementdomain.ErrNotFound
		}
		if !measurementdomain.CanTransition(m.Status, target) {
			return measurementdomain.ErrInvalidTransition
		}

		now := s.clock.Now()
		m.Status = target
		m.UpdatedAt = now
		if target == measurementdomain.StatusPending {
			// Reset clears review metadata; flags stay until cleared.
			m.ReviewedBy = nil
			m.ReviewedAt = nil
		} else {
			m.ReviewedBy = reviewer
			m.ReviewedAt = &now
		}

		updates := map[string]any{
			"status":      m.Status,
			"reviewed_by": m.ReviewedBy,
			"reviewed_at": m.ReviewedAt,
			"updated_at":  m.UpdatedAt,
		}
		if err := repo.Update(ctx, id.String(), updates); err != nil {
			return err
		}
		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
