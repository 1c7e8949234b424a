package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldscope/fieldscope/internal/clock"
	measurementdomain "github.com/fieldscope/fieldscope/internal/measurement/domain"
	usagedomain "github.com/fieldscope/fieldscope/internal/usage/domain"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type triggerStub struct {
	mu  sync.Mutex
	ids []snowflake.ID
}

func (s *triggerStub) Enqueue(id snowflake.ID) {
	s.mu.Lock()
	s.ids = append(s.ids, id)
	s.mu.Unlock()
}

func (s *triggerStub) enqueued() []snowflake.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]snowflake.ID(nil), s.ids...)
}

type gateStub struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *gateStub) Record(context.Context, snowflake.ID, usagedomain.Resource) error { return nil }

func (s *gateStub) CheckAndRecord(_ context.Context, _ snowflake.ID, resource usagedomain.Resource) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if resource != usagedomain.ResourceDataPoints {
		return usagedomain.ErrInvalidResource
	}
	return s.err
}

func (s *gateStub) CurrentUsage(context.Context, snowflake.ID, usagedomain.Resource) (int64, error) {
	return 0, nil
}

func (s *gateStub) CanPerform(context.Context, snowflake.ID, usagedomain.Resource) (bool, error) {
	return true, nil
}

func (s *gateStub) CycleWindow(context.Context, snowflake.ID) (usagedomain.Window, error) {
	return usagedomain.Window{}, nil
}

func setupMeasurementService(t *testing.T, gate *gateStub) (*Service, *gorm.DB, *snowflake.Node, *clock.FakeClock, *triggerStub) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&measurementdomain.Measurement{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(6)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	fake := clock.NewFakeClock(time.Date(2025, 8, 5, 14, 0, 0, 0, time.UTC))
	trigger := &triggerStub{}

	svc := NewService(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		UsageSvc: gate,
		Enricher: trigger,
	}).(*Service)
	return svc, db, node, fake, trigger
}

func validCreateRequest(node *snowflake.Node) measurementdomain.CreateRequest {
	lat, lon := 55.7072, 12.5704
	return measurementdomain.CreateRequest{
		UserID:     node.Generate().String(),
		CampaignID: node.Generate().String(),
		MetricID:   node.Generate().String(),
		Value:      decimal.NewFromFloat(3.14),
		Latitude:   &lat,
		Longitude:  &lon,
	}
}

func TestCreatePersistsAndEnqueues(t *testing.T) {
	gate := &gateStub{}
	svc, db, node, fake, trigger := setupMeasurementService(t, gate)

	m, err := svc.Create(context.Background(), validCreateRequest(node))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Status != measurementdomain.StatusPending {
		t.Fatalf("new measurement should be pending, got %s", m.Status)
	}
	if !m.CollectedAt.Equal(fake.Now()) {
		t.Fatalf("zero collected_at should default to now, got %v", m.CollectedAt)
	}

	var stored measurementdomain.Measurement
	if err := db.Take(&stored, "id = ?", m.ID).Error; err != nil {
		t.Fatalf("load stored: %v", err)
	}

	ids := trigger.enqueued()
	if len(ids) != 1 || ids[0] != m.ID {
		t.Fatalf("expected one enrichment enqueue for %s, got %v", m.ID, ids)
	}
}

func TestCreateValidation(t *testing.T) {
	gate := &gateStub{}
	svc, _, node, fake, trigger := setupMeasurementService(t, gate)

	lat := 55.7072
	cases := []struct {
		name    string
		mutate  func(*measurementdomain.CreateRequest)
		wantErr error
	}{
		{"bad user", func(r *measurementdomain.CreateRequest) { r.UserID = "not-a-snowflake" }, measurementdomain.ErrInvalidUser},
		{"bad campaign", func(r *measurementdomain.CreateRequest) { r.CampaignID = "" }, measurementdomain.ErrInvalidCampaign},
		{"bad metric", func(r *measurementdomain.CreateRequest) { r.MetricID = "0" }, measurementdomain.ErrInvalidMetric},
		{"lat without lon", func(r *measurementdomain.CreateRequest) { r.Latitude = &lat; r.Longitude = nil }, measurementdomain.ErrInvalidLocation},
		{"future collected_at", func(r *measurementdomain.CreateRequest) { r.CollectedAt = fake.Now().Add(time.Hour) }, measurementdomain.ErrInvalidCollectedAt},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validCreateRequest(node)
			tc.mutate(&req)
			if _, err := svc.Create(context.Background(), req); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	if gate.calls != 0 {
		t.Fatalf("validation failures must not touch the quota, got %d calls", gate.calls)
	}
	if len(trigger.enqueued()) != 0 {
		t.Fatal("validation failures must not enqueue enrichment")
	}
}

func TestCreateAcceptsSmallClockSkew(t *testing.T) {
	gate := &gateStub{}
	svc, _, node, fake, _ := setupMeasurementService(t, gate)

	req := validCreateRequest(node)
	req.CollectedAt = fake.Now().Add(4 * time.Minute)
	if _, err := svc.Create(context.Background(), req); err != nil {
		t.Fatalf("collected_at within skew tolerance should pass: %v", err)
	}
}

func TestCreateQuotaDenied(t *testing.T) {
	gate := &gateStub{err: &usagedomain.QuotaExceededError{
		Resource: usagedomain.ResourceDataPoints,
		Tier:     "free",
		Limit:    1000,
		Used:     1000,
	}}
	svc, db, node, _, trigger := setupMeasurementService(t, gate)

	_, err := svc.Create(context.Background(), validCreateRequest(node))
	var quotaErr *usagedomain.QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected quota error, got %v", err)
	}

	var count int64
	db.Model(&measurementdomain.Measurement{}).Count(&count)
	if count != 0 {
		t.Fatal("denied create must not persist a measurement")
	}
	if len(trigger.enqueued()) != 0 {
		t.Fatal("denied create must not enqueue enrichment")
	}
}

func TestReviewTransitions(t *testing.T) {
	gate := &gateStub{}
	svc, _, node, fake, _ := setupMeasurementService(t, gate)

	m, err := svc.Create(context.Background(), validCreateRequest(node))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	approved, err := svc.Review(context.Background(), measurementdomain.ReviewRequest{
		MeasurementID: m.ID.String(),
		Approve:       true,
		ReviewerID:    "reviewer-42",
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != measurementdomain.StatusApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}
	if approved.ReviewedBy == nil || *approved.ReviewedBy != "reviewer-42" {
		t.Fatalf("reviewer not recorded: %v", approved.ReviewedBy)
	}
	if approved.ReviewedAt == nil || !approved.ReviewedAt.Equal(fake.Now()) {
		t.Fatalf("reviewed_at not recorded: %v", approved.ReviewedAt)
	}

	// A terminal measurement cannot be re-reviewed without a reset.
	_, err = svc.Review(context.Background(), measurementdomain.ReviewRequest{
		MeasurementID: m.ID.String(),
		Approve:       false,
		ReviewerID:    "reviewer-42",
	})
	if !errors.Is(err, measurementdomain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	reset, err := svc.ResetReview(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset.Status != measurementdomain.StatusPending {
		t.Fatalf("reset should return to pending, got %s", reset.Status)
	}
	if reset.ReviewedBy != nil || reset.ReviewedAt != nil {
		t.Fatal("reset must clear review metadata")
	}

	rejected, err := svc.Review(context.Background(), measurementdomain.ReviewRequest{
		MeasurementID: m.ID.String(),
		Approve:       false,
		ReviewerID:    "reviewer-7",
	})
	if err != nil {
		t.Fatalf("reject after reset: %v", err)
	}
	if rejected.Status != measurementdomain.StatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
}

func TestReviewRequiresReviewer(t *testing.T) {
	gate := &gateStub{}
	svc, _, node, _, _ := setupMeasurementService(t, gate)

	m, err := svc.Create(context.Background(), validCreateRequest(node))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.Review(context.Background(), measurementdomain.ReviewRequest{
		MeasurementID: m.ID.String(),
		Approve:       true,
		ReviewerID:    "   ",
	})
	if !errors.Is(err, measurementdomain.ErrInvalidReviewer) {
		t.Fatalf("expected invalid reviewer, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	gate := &gateStub{}
	svc, _, node, _, _ := setupMeasurementService(t, gate)

	if _, err := svc.Get(context.Background(), node.Generate()); !errors.Is(err, measurementdomain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	gate := &gateStub{}
	svc, _, node, fake, _ := setupMeasurementService(t, gate)

	campaignA := node.Generate().String()
	campaignB := node.Generate().String()
	for i := 0; i < 7; i++ {
		req := validCreateRequest(node)
		req.CampaignID = campaignA
		if _, err := svc.Create(context.Background(), req); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
		// Distinct created_at per row so cursor pagination has an order.
		fake.Advance(time.Second)
	}
	reqB := validCreateRequest(node)
	reqB.CampaignID = campaignB
	if _, err := svc.Create(context.Background(), reqB); err != nil {
		t.Fatalf("seed other campaign: %v", err)
	}

	first, err := svc.List(context.Background(), measurementdomain.ListRequest{
		CampaignID: campaignA,
		PageSize:   5,
	})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Measurements) != 5 {
		t.Fatalf("expected 5 items, got %d", len(first.Measurements))
	}
	if first.NextPageToken == "" {
		t.Fatal("expected a next page token")
	}
	for i := 1; i < len(first.Measurements); i++ {
		if first.Measurements[i].CreatedAt.After(first.Measurements[i-1].CreatedAt) {
			t.Fatal("expected newest-first ordering")
		}
	}

	second, err := svc.List(context.Background(), measurementdomain.ListRequest{
		CampaignID: campaignA,
		PageSize:   5,
		PageToken:  first.NextPageToken,
	})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Measurements) != 2 {
		t.Fatalf("expected 2 remaining items, got %d", len(second.Measurements))
	}
	if second.NextPageToken != "" {
		t.Fatal("last page must not carry a token")
	}

	seen := make(map[snowflake.ID]bool)
	for _, m := range append(first.Measurements, second.Measurements...) {
		if seen[m.ID] {
			t.Fatalf("measurement %s returned twice", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestListPaginatesRowsSharingTimestamp(t *testing.T) {
	gate := &gateStub{}
	svc, _, node, _, _ := setupMeasurementService(t, gate)

	// Same clock instant for every row: only the id breaks the tie.
	campaign := node.Generate().String()
	for i := 0; i < 7; i++ {
		req := validCreateRequest(node)
		req.CampaignID = campaign
		if _, err := svc.Create(context.Background(), req); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	seen := make(map[snowflake.ID]bool)
	token := ""
	for page := 0; ; page++ {
		if page > 4 {
			t.Fatal("pagination did not terminate")
		}
		resp, err := svc.List(context.Background(), measurementdomain.ListRequest{
			CampaignID: campaign,
			PageSize:   3,
			PageToken:  token,
		})
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		for _, m := range resp.Measurements {
			if seen[m.ID] {
				t.Fatalf("measurement %s returned twice", m.ID)
			}
			seen[m.ID] = true
		}
		if resp.NextPageToken == "" {
			break
		}
		token = resp.NextPageToken
	}
	if len(seen) != 7 {
		t.Fatalf("expected all 7 rows across pages, saw %d", len(seen))
	}
}
