package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldscope/fieldscope/internal/clock"
	obsmetrics "github.com/fieldscope/fieldscope/internal/observability/metrics"
	qualitydomain "github.com/fieldscope/fieldscope/internal/quality/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: missing required dependency")

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	QualitySvc qualitydomain.Service

	Locker *Locker `optional:"true"`
	Config Config  `optional:"true"`
}

// Scheduler drives the periodic quality jobs. An optional redis Locker
// keeps multi-instance deployments from running the same job twice.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	qualitySvc qualitydomain.Service
	locker     *Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.QualitySvc == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg,
		clock:      p.Clock,
		qualitySvc: p.QualitySvc,
		locker:     p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))

	if s.locker != nil {
		key := "fieldscope:scheduler:" + name
		token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
		if err != nil {
			log.Warn("job lock unavailable, running unguarded", zap.Error(err))
		} else if !ok {
			log.Debug("job held by another instance, skipping")
			return nil
		} else {
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					log.Warn("job lock release failed", zap.Error(err))
				}
			}()
		}
	}

	pipeMetrics := obsmetrics.Pipeline()
	pipeMetrics.IncJobRun(name)

	err := fn(ctx)
	pipeMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	pipeMetrics.IncJobError(name)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"flag_suspicious", s.isJobEnabled("flag_suspicious"), func(ctx context.Context) error {
			return s.runJob(ctx, "flag_suspicious", s.cfg.JobTimeout, s.FlagSuspiciousJob)
		}},
		{"auto_approve", s.isJobEnabled("auto_approve"), func(ctx context.Context) error {
			return s.runJob(ctx, "auto_approve", s.cfg.JobTimeout, s.AutoApproveJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs enables everything (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// FlagSuspiciousJob runs the quality flagging heuristics once. Flagging
// never blocks a measurement, so job failures stay contained here.
func (s *Scheduler) FlagSuspiciousJob(ctx context.Context) error {
	report, err := s.qualitySvc.FlagSuspiciousReadings(ctx)
	if err != nil {
		return err
	}
	if report.Flagged > 0 {
		s.log.Info("flagged suspicious readings",
			zap.Int("scanned", report.Scanned),
			zap.Int("flagged", report.Flagged),
			zap.Int("low_accuracy", report.LowAccuracy),
			zap.Int("outliers", report.Outliers),
		)
	}
	return nil
}

// AutoApproveJob promotes qualified pending measurements once.
func (s *Scheduler) AutoApproveJob(ctx context.Context) error {
	report, err := s.qualitySvc.AutoApproveQualified(ctx)
	if err != nil {
		return err
	}
	if report.Approved > 0 {
		s.log.Info("auto approved measurements",
			zap.Int("scanned", report.Scanned),
			zap.Int("approved", report.Approved),
		)
	}
	return nil
}
