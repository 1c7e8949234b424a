package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldscope/fieldscope/internal/clock"
	measurementdomain "github.com/fieldscope/fieldscope/internal/measurement/domain"
	qualitydomain "github.com/fieldscope/fieldscope/internal/quality/domain"
	"github.com/fieldscope/fieldscope/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"gorm.io/gorm"
)

const (
	// lowAccuracyThresholdM is the GPS accuracy above which a reading
	// gets the low_accuracy flag.
	lowAccuracyThresholdM = 50.0

	// autoApproveAccuracyM is the GPS accuracy at or below which an
	// unflagged pending reading qualifies for auto approval.
	autoApproveAccuracyM = 10.0

	// outlierSigma marks values this many standard deviations from the
	// campaign/metric mean.
	outlierSigma = 3.0

	// outlierMinSamples is the minimum population per campaign/metric
	// before the outlier rule applies.
	outlierMinSamples = 5

	systemReviewer = "system"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock

	measurementrepo repository.Repository[measurementdomain.Measurement]
}

func NewService(p ServiceParam) qualitydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("quality.service"),
		clock: p.Clock,

		measurementrepo: repository.ProvideStore[measurementdomain.Measurement](p.DB),
	}
}

type seriesKey struct {
	CampaignID snowflake.ID
	MetricID   snowflake.ID
}

// FlagSuspiciousReadings applies the low-accuracy and outlier rules to
// every pending measurement. Each rule attaches at most one flag per
// measurement; existing flags of the same type are left alone.
func (s *Service) FlagSuspiciousReadings(ctx context.Context) (qualitydomain.FlagReport, error) {
	report := qualitydomain.FlagReport{}

	pending, err := s.measurementrepo.Find(ctx, &measurementdomain.Measurement{
		Status: measurementdomain.StatusPending,
	})
	if err != nil {
		return report, err
	}
	report.Scanned = len(pending)
	if len(pending) == 0 {
		return report, nil
	}

	populations, err := s.loadPopulations(ctx, pending)
	if err != nil {
		return report, err
	}

	now := s.clock.Now()
	for _, m := range pending {
		var added []measurementdomain.QualityFlag

		if m.AccuracyM != nil && *m.AccuracyM > lowAccuracyThresholdM && !m.HasFlag(measurementdomain.FlagLowAccuracy) {
			added = append(added, measurementdomain.QualityFlag{
				Type:      measurementdomain.FlagLowAccuracy,
				Reason:    fmt.Sprintf("gps accuracy %.1fm exceeds %.0fm", *m.AccuracyM, lowAccuracyThresholdM),
				FlaggedAt: now,
			})
			report.LowAccuracy++
		}

		if flag, ok := s.outlierFlag(m, populations, now); ok {
			added = append(added, flag)
			report.Outliers++
		}

		if len(added) == 0 {
			continue
		}
		report.Flagged++
		m.Flags = append(m.Flags, added...)
		updates := map[string]any{
			"flags":      m.Flags,
			"updated_at": now,
		}
		if err := s.measurementrepo.Update(ctx, m.ID.String(), updates); err != nil {
			return report, err
		}
	}

	s.log.Info("quality flag pass complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("flagged", report.Flagged),
		zap.Int("low_accuracy", report.LowAccuracy),
		zap.Int("outliers", report.Outliers),
	)
	return report, nil
}

type valueSample struct {
	ID    snowflake.ID
	Value float64
}

// loadPopulations fetches the full value population for every
// campaign/metric series that has at least one pending measurement. The
// population includes reviewed measurements so the baseline is stable;
// samples keep their measurement id so a candidate can be excluded from
// its own baseline.
func (s *Service) loadPopulations(ctx context.Context, pending []*measurementdomain.Measurement) (map[seriesKey][]valueSample, error) {
	populations := make(map[seriesKey][]valueSample)
	for _, m := range pending {
		key := seriesKey{CampaignID: m.CampaignID, MetricID: m.MetricID}
		if _, ok := populations[key]; ok {
			continue
		}
		series, err := s.measurementrepo.Find(ctx, &measurementdomain.Measurement{
			CampaignID: key.CampaignID,
			MetricID:   key.MetricID,
		})
		if err != nil {
			return nil, err
		}
		samples := make([]valueSample, 0, len(series))
		for _, sm := range series {
			samples = append(samples, valueSample{ID: sm.ID, Value: sm.Value.InexactFloat64()})
		}
		populations[key] = samples
	}
	return populations, nil
}

func (s *Service) outlierFlag(m *measurementdomain.Measurement, populations map[seriesKey][]valueSample, now time.Time) (measurementdomain.QualityFlag, bool) {
	if m.HasFlag(measurementdomain.FlagOutlier) {
		return measurementdomain.QualityFlag{}, false
	}

	// The candidate is judged against the rest of the series. Keeping it
	// in the baseline would inflate the stddev enough that small series
	// can never flag anything.
	samples := populations[seriesKey{CampaignID: m.CampaignID, MetricID: m.MetricID}]
	baseline := make([]float64, 0, len(samples))
	for _, sample := range samples {
		if sample.ID == m.ID {
			continue
		}
		baseline = append(baseline, sample.Value)
	}
	if len(baseline) < outlierMinSamples {
		return measurementdomain.QualityFlag{}, false
	}

	mean, std := stat.MeanStdDev(baseline, nil)
	if std == 0 {
		return measurementdomain.QualityFlag{}, false
	}
	value := m.Value.InexactFloat64()
	if math.Abs(value-mean) <= outlierSigma*std {
		return measurementdomain.QualityFlag{}, false
	}

	return measurementdomain.QualityFlag{
		Type:      measurementdomain.FlagOutlier,
		Reason:    fmt.Sprintf("value %.4f deviates more than %.0f sigma from mean %.4f (n=%d)", value, outlierSigma, mean, len(baseline)),
		FlaggedAt: now,
	}, true
}

// AutoApproveQualified promotes pending measurements that carry no
// quality flags and a GPS accuracy at or below the approval threshold.
func (s *Service) AutoApproveQualified(ctx context.Context) (qualitydomain.ApprovalReport, error) {
	report := qualitydomain.ApprovalReport{}

	pending, err := s.measurementrepo.Find(ctx, &measurementdomain.Measurement{
		Status: measurementdomain.StatusPending,
	})
	if err != nil {
		return report, err
	}
	report.Scanned = len(pending)

	now := s.clock.Now()
	reviewer := systemReviewer
	for _, m := range pending {
		if len(m.Flags) != 0 {
			continue
		}
		if m.AccuracyM == nil || *m.AccuracyM > autoApproveAccuracyM {
			continue
		}
		updates := map[string]any{
			"status":      measurementdomain.StatusApproved,
			"reviewed_by": reviewer,
			"reviewed_at": now,
			"updated_at":  now,
		}
		if err := s.measurementrepo.Update(ctx, m.ID.String(), updates); err != nil {
			return report, err
		}
		report.Approved++
	}

	s.log.Info("auto approval pass complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("approved", report.Approved),
	)
	return report, nil
}
