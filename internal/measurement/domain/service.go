package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldscope/fieldscope/pkg/db/pagination"
	"github.com/shopspring/decimal"
)

type CreateRequest struct {
	UserID      string          `json:"user_id"`
	CampaignID  string          `json:"campaign_id"`
	MetricID    string          `json:"metric_id"`
	Value       decimal.Decimal `json:"value"`
	Latitude    *float64        `json:"latitude"`
	Longitude   *float64        `json:"longitude"`
	AccuracyM   *float64        `json:"accuracy_m"`
	CollectedAt time.Time       `json:"collected_at"`
}

type ReviewRequest struct {
	MeasurementID string `json:"measurement_id"`
	Approve       bool   `json:"approve"`
	ReviewerID    string `json:"reviewer_id"`
}

type ListRequest struct {
	CampaignID string `form:"campaign_id" json:"campaign_id"`
	Status     string `form:"status" json:"status"`
	PageToken  string `form:"page_token" json:"page_token"`
	PageSize   int    `form:"page_size,default=50" json:"page_size"`
}

type ListResponse struct {
	pagination.PageInfo
	Measurements []Measurement `json:"measurements"`
}

type Service interface {
	Create(context.Context, CreateRequest) (*Measurement, error)
	Get(ctx context.Context, id snowflake.ID) (*Measurement, error)
	List(context.Context, ListRequest) (ListResponse, error)
	Review(context.Context, ReviewRequest) (*Measurement, error)
	ResetReview(ctx context.Context, id snowflake.ID) (*Measurement, error)
}

var (
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidCampaign    = errors.New("invalid_campaign")
	ErrInvalidMetric      = errors.New("invalid_metric")
	ErrInvalidLocation    = errors.New("invalid_location_pair")
	ErrInvalidCollectedAt = errors.New("invalid_collected_at")
	ErrInvalidReviewer    = errors.New("invalid_reviewer")
	ErrNotFound           = errors.New("measurement_not_found")
	ErrInvalidTransition  = errors.New("invalid_status_transition")
)
