package service

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldscope/fieldscope/internal/clock"
	"github.com/fieldscope/fieldscope/internal/config"
	enrichmentdomain "github.com/fieldscope/fieldscope/internal/enrichment/domain"
	imagerydomain "github.com/fieldscope/fieldscope/internal/imagery/domain"
	measurementdomain "github.com/fieldscope/fieldscope/internal/measurement/domain"
	obsmetrics "github.com/fieldscope/fieldscope/internal/observability/metrics"
	spectraldomain "github.com/fieldscope/fieldscope/internal/spectral/domain"
	usagedomain "github.com/fieldscope/fieldscope/internal/usage/domain"
	"github.com/fieldscope/fieldscope/pkg/db"
	"github.com/fieldscope/fieldscope/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultQueueSize = 256

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	GenID    *snowflake.Node
	Clock    clock.Clock
	Imagery  imagerydomain.Client
	UsageSvc usagedomain.Service
}

// Service is the enrichment orchestrator. Per triggering measurement it
// resolves the location, fans out the fixed index set, aggregates the
// successes into one SpectralAnalysis and tolerates partial failure.
type Service struct {
	db  *gorm.DB
	log *zap.Logger

	cfg      config.ImageryConfig
	genID    *snowflake.Node
	clock    clock.Clock
	imagery  imagerydomain.Client
	usageSvc usagedomain.Service

	measurementrepo repository.Repository[measurementdomain.Measurement]
	analysisrepo    repository.Repository[spectraldomain.SpectralAnalysis]

	queue chan snowflake.ID
}

func NewService(p ServiceParam) enrichmentdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("enrichment.service"),

		cfg:      p.Config.Imagery,
		genID:    p.GenID,
		clock:    p.Clock,
		imagery:  p.Imagery,
		usageSvc: p.UsageSvc,

		measurementrepo: repository.ProvideStore[measurementdomain.Measurement](p.DB),
		analysisrepo:    repository.ProvideStore[spectraldomain.SpectralAnalysis](p.DB),

		queue: make(chan snowflake.ID, defaultQueueSize),
	}
}

// Enqueue schedules enrichment without blocking the ingestion path. A
// full queue drops the request; the drop is logged and counted, the
// measurement itself is unaffected.
func (s *Service) Enqueue(measurementID snowflake.ID) {
	select {
	case s.queue <- measurementID:
	default:
		obsmetrics.Pipeline().IncEnrichmentRun("dropped")
		s.log.Warn("enrichment queue full, dropping",
			zap.String("measurement_id", measurementID.String()),
		)
	}
}

// RunWorker consumes the queue until ctx is canceled.
func (s *Service) RunWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			if err := s.runSafe(ctx, id); err != nil {
				s.log.Error("enrichment run failed",
					zap.Error(err),
					zap.String("measurement_id", id.String()),
				)
			}
		}
	}
}

func (s *Service) runSafe(ctx context.Context, id snowflake.ID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("enrichment run panicked", zap.Any("panic", r))
			obsmetrics.Pipeline().IncEnrichmentRun("panic")
		}
	}()
	return s.Run(ctx, id)
}

func (s *Service) Run(ctx context.Context, measurementID snowflake.ID) error {
	m, err := s.measurementrepo.FindOne(ctx, &measurementdomain.Measurement{ID: measurementID})
	if err != nil {
		return err
	}
	if m == nil {
		// Deleted before the run started: nothing to enrich.
		obsmetrics.Pipeline().IncEnrichmentRun("skipped_missing")
		return nil
	}

	if !m.HasLocation() {
		// Expected, silent skip: no audit rows, no analysis.
		obsmetrics.Pipeline().IncEnrichmentRun("skipped_no_location")
		return nil
	}

	if err := s.usageSvc.CheckAndRecord(ctx, m.UserID, usagedomain.ResourceSatelliteAnalyses); err != nil {
		obsmetrics.Pipeline().IncEnrichmentRun("quota_denied")
		return err
	}

	results, err := s.fetchAll(ctx, m)
	if err != nil {
		obsmetrics.Pipeline().IncEnrichmentRun("error")
		return err
	}
	if len(results) == 0 {
		obsmetrics.Pipeline().IncEnrichmentRun("skipped_no_indices")
		return nil
	}

	analysis := s.buildAnalysis(m, results)
	if err := s.persist(ctx, m.ID, analysis); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// A concurrent run already wrote the analysis for this
			// measurement; the unique index makes the second write a no-op.
			obsmetrics.Pipeline().IncEnrichmentRun("skipped_duplicate")
			s.log.Info("analysis already present, skipping",
				zap.String("measurement_id", measurementID.String()),
			)
			return nil
		}
		obsmetrics.Pipeline().IncEnrichmentRun("error")
		return err
	}

	obsmetrics.Pipeline().IncEnrichmentRun("persisted")
	s.log.Info("measurement enriched",
		zap.String("measurement_id", measurementID.String()),
		zap.Int("indices", len(results)),
	)
	return nil
}

// fetchAll issues the fixed index set concurrently. Per-index failures
// are absorbed; a token failure aborts the batch.
func (s *Service) fetchAll(ctx context.Context, m *measurementdomain.Measurement) (map[imagerydomain.IndexKind]imagerydomain.IndexResult, error) {
	var (
		mu      sync.Mutex
		results = make(map[imagerydomain.IndexKind]imagerydomain.IndexResult)
		hardErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range imagerydomain.AllIndexKinds() {
		g.Go(func() error {
			result, err := s.imagery.FetchIndex(gctx, imagerydomain.FetchRequest{
				Latitude:      *m.Latitude,
				Longitude:     *m.Longitude,
				Date:          m.CollectedAt,
				Index:         kind,
				CallType:      imagerydomain.CallTypeEnrichment,
				MeasurementID: &m.ID,
				CampaignID:    m.CampaignID,
				UserID:        m.UserID,
			})
			if err != nil {
				var fetchErr *imagerydomain.FetchError
				if errors.As(err, &fetchErr) {
					s.log.Warn("index unavailable",
						zap.String("index", string(kind)),
						zap.Error(err),
					)
					return nil
				}
				mu.Lock()
				if hardErr == nil {
					hardErr = err
				}
				mu.Unlock()
				return nil
			}
			mu.Lock()
			results[kind] = *result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if hardErr != nil {
		return nil, hardErr
	}
	return results, nil
}

func (s *Service) buildAnalysis(m *measurementdomain.Measurement, results map[imagerydomain.IndexKind]imagerydomain.IndexResult) *spectraldomain.SpectralAnalysis {
	fetched := make([]string, 0, len(results))
	analysis := &spectraldomain.SpectralAnalysis{
		ID:              s.genID.Generate(),
		MeasurementID:   &m.ID,
		CampaignID:      m.CampaignID,
		Latitude:        *m.Latitude,
		Longitude:       *m.Longitude,
		AcquisitionDate: m.CollectedAt,
		Source:          s.cfg.Source,
		CreatedAt:       s.clock.Now(),
	}

	for _, kind := range imagerydomain.AllIndexKinds() {
		if result, ok := results[kind]; ok {
			analysis.SetIndexValue(kind, result.Value)
			fetched = append(fetched, string(kind))
		}
	}

	analysis.Metadata = datatypes.JSONMap{"indices_fetched": fetched}
	return analysis
}

// persist writes the analysis in one transaction. If the measurement was
// deleted mid-run the row is kept as a campaign-scoped standalone
// analysis.
func (s *Service) persist(ctx context.Context, measurementID snowflake.ID, analysis *spectraldomain.SpectralAnalysis) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := s.measurementrepo.WithTrx(tx).Count(ctx, &measurementdomain.Measurement{ID: measurementID})
		if err != nil {
			return err
		}
		if count == 0 {
			analysis.MeasurementID = nil
		}
		return s.analysisrepo.WithTrx(tx).Create(ctx, analysis)
	})
}
