package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldscope/fieldscope/internal/clock"
	measurementdomain "github.com/fieldscope/fieldscope/internal/measurement/domain"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupQualityService(t *testing.T) (*Service, *gorm.DB, *snowflake.Node, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&measurementdomain.Measurement{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(5)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	fake := clock.NewFakeClock(time.Date(2025, 8, 10, 6, 0, 0, 0, time.UTC))

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: fake,
	}).(*Service)
	return svc, db, node, fake
}

type readingSpec struct {
	value    float64
	accuracy *float64
	status   measurementdomain.Status
	flags    []measurementdomain.QualityFlag
}

func seedReading(t *testing.T, db *gorm.DB, node *snowflake.Node, campaign, metric snowflake.ID, spec readingSpec) *measurementdomain.Measurement {
	t.Helper()
	status := spec.status
	if status == "" {
		status = measurementdomain.StatusPending
	}
	m := &measurementdomain.Measurement{
		ID:          node.Generate(),
		UserID:      node.Generate(),
		CampaignID:  campaign,
		MetricID:    metric,
		Value:       decimal.NewFromFloat(spec.value),
		AccuracyM:   spec.accuracy,
		CollectedAt: time.Date(2025, 8, 9, 0, 0, 0, 0, time.UTC),
		Status:      status,
		Flags:       spec.flags,
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("seed reading: %v", err)
	}
	return m
}

func accuracyPtr(v float64) *float64 { return &v }

func reload(t *testing.T, db *gorm.DB, id snowflake.ID) *measurementdomain.Measurement {
	t.Helper()
	var m measurementdomain.Measurement
	if err := db.Take(&m, "id = ?", id).Error; err != nil {
		t.Fatalf("reload measurement: %v", err)
	}
	return &m
}

func TestFlagLowAccuracy(t *testing.T) {
	svc, db, node, _ := setupQualityService(t)
	campaign, metric := node.Generate(), node.Generate()

	bad := seedReading(t, db, node, campaign, metric, readingSpec{value: 12, accuracy: accuracyPtr(60)})
	boundary := seedReading(t, db, node, campaign, metric, readingSpec{value: 12, accuracy: accuracyPtr(50)})
	unknown := seedReading(t, db, node, campaign, metric, readingSpec{value: 12})

	report, err := svc.FlagSuspiciousReadings(context.Background())
	if err != nil {
		t.Fatalf("flag pass: %v", err)
	}
	if report.Scanned != 3 || report.LowAccuracy != 1 || report.Flagged != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	if got := reload(t, db, bad.ID); !got.HasFlag(measurementdomain.FlagLowAccuracy) {
		t.Fatal("60m reading should carry low_accuracy")
	}
	if got := reload(t, db, boundary.ID); got.HasFlag(measurementdomain.FlagLowAccuracy) {
		t.Fatal("exactly 50m is not low accuracy")
	}
	if got := reload(t, db, unknown.ID); len(got.Flags) != 0 {
		t.Fatal("missing accuracy must not be flagged")
	}
}

func TestFlagLowAccuracyIsIdempotent(t *testing.T) {
	svc, db, node, _ := setupQualityService(t)
	campaign, metric := node.Generate(), node.Generate()
	m := seedReading(t, db, node, campaign, metric, readingSpec{value: 12, accuracy: accuracyPtr(80)})

	for i := 0; i < 3; i++ {
		if _, err := svc.FlagSuspiciousReadings(context.Background()); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}

	got := reload(t, db, m.ID)
	if len(got.Flags) != 1 {
		t.Fatalf("expected exactly one flag after repeated passes, got %d", len(got.Flags))
	}
}

func TestFlagOutlier(t *testing.T) {
	svc, db, node, _ := setupQualityService(t)
	campaign, metric := node.Generate(), node.Generate()

	// A jittered baseline so the standard deviation is nonzero.
	baseline := []float64{9.8, 9.9, 10.0, 10.1, 10.2}
	for i := 0; i < 4; i++ {
		for _, v := range baseline {
			seedReading(t, db, node, campaign, metric, readingSpec{value: v, status: measurementdomain.StatusApproved})
		}
	}
	normal := seedReading(t, db, node, campaign, metric, readingSpec{value: 10.1})
	outlier := seedReading(t, db, node, campaign, metric, readingSpec{value: 100})

	report, err := svc.FlagSuspiciousReadings(context.Background())
	if err != nil {
		t.Fatalf("flag pass: %v", err)
	}
	if report.Outliers != 1 {
		t.Fatalf("expected one outlier, report %+v", report)
	}

	if got := reload(t, db, outlier.ID); !got.HasFlag(measurementdomain.FlagOutlier) {
		t.Fatal("extreme value should carry the outlier flag")
	}
	if got := reload(t, db, normal.ID); got.HasFlag(measurementdomain.FlagOutlier) {
		t.Fatal("in-band value must not be flagged")
	}
}

func TestFlagOutlierAgainstSmallHistory(t *testing.T) {
	svc, db, node, _ := setupQualityService(t)
	campaign, metric := node.Generate(), node.Generate()

	history := []float64{9.8, 9.85, 9.9, 9.95, 10, 10.05, 10.1, 10.15, 10.2}
	for _, v := range history {
		seedReading(t, db, node, campaign, metric, readingSpec{value: v, status: measurementdomain.StatusApproved})
	}
	extreme := seedReading(t, db, node, campaign, metric, readingSpec{value: 1e6})

	report, err := svc.FlagSuspiciousReadings(context.Background())
	if err != nil {
		t.Fatalf("flag pass: %v", err)
	}
	if report.Outliers != 1 || report.Flagged != 1 {
		t.Fatalf("an extreme value against a small history must flag, report %+v", report)
	}
	if got := reload(t, db, extreme.ID); !got.HasFlag(measurementdomain.FlagOutlier) {
		t.Fatal("extreme value should carry the outlier flag")
	}
}

func TestFlagReportCountsMeasurementsOnce(t *testing.T) {
	svc, db, node, _ := setupQualityService(t)
	campaign, metric := node.Generate(), node.Generate()

	baseline := []float64{9.8, 9.9, 10.0, 10.1, 10.2}
	for i := 0; i < 4; i++ {
		for _, v := range baseline {
			seedReading(t, db, node, campaign, metric, readingSpec{value: v, status: measurementdomain.StatusApproved})
		}
	}
	both := seedReading(t, db, node, campaign, metric, readingSpec{value: 500, accuracy: accuracyPtr(90)})

	report, err := svc.FlagSuspiciousReadings(context.Background())
	if err != nil {
		t.Fatalf("flag pass: %v", err)
	}
	if report.LowAccuracy != 1 || report.Outliers != 1 {
		t.Fatalf("both rules should trip, report %+v", report)
	}
	if report.Flagged != 1 {
		t.Fatalf("one measurement tripping both rules counts once, report %+v", report)
	}
	if got := reload(t, db, both.ID); len(got.Flags) != 2 {
		t.Fatalf("expected both flags on the measurement, got %d", len(got.Flags))
	}
}

func TestOutlierSkipsSmallSeries(t *testing.T) {
	svc, db, node, _ := setupQualityService(t)
	campaign, metric := node.Generate(), node.Generate()

	seedReading(t, db, node, campaign, metric, readingSpec{value: 10, status: measurementdomain.StatusApproved})
	seedReading(t, db, node, campaign, metric, readingSpec{value: 10.2, status: measurementdomain.StatusApproved})
	seedReading(t, db, node, campaign, metric, readingSpec{value: 9.9, status: measurementdomain.StatusApproved})
	m := seedReading(t, db, node, campaign, metric, readingSpec{value: 5000})

	report, err := svc.FlagSuspiciousReadings(context.Background())
	if err != nil {
		t.Fatalf("flag pass: %v", err)
	}
	if report.Outliers != 0 {
		t.Fatalf("series below the minimum sample count must not flag, report %+v", report)
	}
	if got := reload(t, db, m.ID); len(got.Flags) != 0 {
		t.Fatal("no flags expected on a small series")
	}
}

func TestOutlierSkipsZeroVariance(t *testing.T) {
	svc, db, node, _ := setupQualityService(t)
	campaign, metric := node.Generate(), node.Generate()

	for i := 0; i < 5; i++ {
		seedReading(t, db, node, campaign, metric, readingSpec{value: 10, status: measurementdomain.StatusApproved})
	}
	m := seedReading(t, db, node, campaign, metric, readingSpec{value: 10})

	report, err := svc.FlagSuspiciousReadings(context.Background())
	if err != nil {
		t.Fatalf("flag pass: %v", err)
	}
	if report.Outliers != 0 {
		t.Fatalf("identical series must not flag, report %+v", report)
	}
	if got := reload(t, db, m.ID); len(got.Flags) != 0 {
		t.Fatal("no flags expected on a zero-variance series")
	}
}

func TestFlagScansOnlyPending(t *testing.T) {
	svc, db, node, _ := setupQualityService(t)
	campaign, metric := node.Generate(), node.Generate()

	approved := seedReading(t, db, node, campaign, metric, readingSpec{
		value: 12, accuracy: accuracyPtr(500), status: measurementdomain.StatusApproved,
	})

	report, err := svc.FlagSuspiciousReadings(context.Background())
	if err != nil {
		t.Fatalf("flag pass: %v", err)
	}
	if report.Scanned != 0 {
		t.Fatalf("reviewed measurements are out of scope, report %+v", report)
	}
	if got := reload(t, db, approved.ID); len(got.Flags) != 0 {
		t.Fatal("approved measurement must stay unflagged")
	}
}

func TestAutoApproveQualified(t *testing.T) {
	svc, db, node, fake := setupQualityService(t)
	campaign, metric := node.Generate(), node.Generate()

	qualified := seedReading(t, db, node, campaign, metric, readingSpec{value: 12, accuracy: accuracyPtr(8)})
	boundary := seedReading(t, db, node, campaign, metric, readingSpec{value: 12, accuracy: accuracyPtr(10)})
	coarse := seedReading(t, db, node, campaign, metric, readingSpec{value: 12, accuracy: accuracyPtr(10.5)})
	unknown := seedReading(t, db, node, campaign, metric, readingSpec{value: 12})
	flagged := seedReading(t, db, node, campaign, metric, readingSpec{
		value:    12,
		accuracy: accuracyPtr(5),
		flags: []measurementdomain.QualityFlag{{
			Type:      measurementdomain.FlagOutlier,
			Reason:    "manual",
			FlaggedAt: fake.Now(),
		}},
	})

	report, err := svc.AutoApproveQualified(context.Background())
	if err != nil {
		t.Fatalf("approval pass: %v", err)
	}
	if report.Scanned != 5 || report.Approved != 2 {
		t.Fatalf("unexpected report %+v", report)
	}

	for _, id := range []snowflake.ID{qualified.ID, boundary.ID} {
		got := reload(t, db, id)
		if got.Status != measurementdomain.StatusApproved {
			t.Fatalf("measurement %s should be approved, got %s", id, got.Status)
		}
		if got.ReviewedBy == nil || *got.ReviewedBy != "system" {
			t.Fatalf("auto approval must attribute to system, got %v", got.ReviewedBy)
		}
		if got.ReviewedAt == nil || !got.ReviewedAt.Equal(fake.Now()) {
			t.Fatalf("reviewed_at should be the pass timestamp, got %v", got.ReviewedAt)
		}
	}
	for _, id := range []snowflake.ID{coarse.ID, unknown.ID, flagged.ID} {
		if got := reload(t, db, id); got.Status != measurementdomain.StatusPending {
			t.Fatalf("measurement %s should stay pending, got %s", id, got.Status)
		}
	}
}

func TestAutoApproveIsIdempotent(t *testing.T) {
	svc, db, node, _ := setupQualityService(t)
	campaign, metric := node.Generate(), node.Generate()
	seedReading(t, db, node, campaign, metric, readingSpec{value: 12, accuracy: accuracyPtr(3)})

	first, err := svc.AutoApproveQualified(context.Background())
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if first.Approved != 1 {
		t.Fatalf("first pass should approve, report %+v", first)
	}

	second, err := svc.AutoApproveQualified(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.Scanned != 0 || second.Approved != 0 {
		t.Fatalf("second pass should find nothing, report %+v", second)
	}
}
