// Package domain contains persistence models for field measurements.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status is the review lifecycle state of a measurement.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether a status ends the review lifecycle.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// CanTransition reports whether a status change is allowed: pending may
// move to approved or rejected, and any status may reset to pending.
func CanTransition(from, to Status) bool {
	if to == StatusPending {
		return true
	}
	if from != StatusPending {
		return false
	}
	return to == StatusApproved || to == StatusRejected
}

// FlagType identifies a quality heuristic rule.
type FlagType string

const (
	FlagLowAccuracy FlagType = "low_accuracy"
	FlagOutlier     FlagType = "outlier"
)

// QualityFlag is one non-blocking data-quality annotation. Flags are
// append-only until explicitly cleared.
type QualityFlag struct {
	Type      FlagType  `json:"type"`
	Reason    string    `json:"reason"`
	FlaggedAt time.Time `json:"flagged_at"`
}

// Measurement is one field observation. Latitude and longitude are both
// present or both absent.
type Measurement struct {
	ID          snowflake.ID                    `gorm:"primaryKey"`
	UserID      snowflake.ID                    `gorm:"not null;index"`
	CampaignID  snowflake.ID                    `gorm:"not null;index:idx_measurements_campaign_metric,priority:1"`
	MetricID    snowflake.ID                    `gorm:"not null;index:idx_measurements_campaign_metric,priority:2"`
	Value       decimal.Decimal                 `gorm:"type:numeric(20,6);not null"`
	Latitude    *float64                        `gorm:""`
	Longitude   *float64                        `gorm:""`
	AccuracyM   *float64                        `gorm:""`
	CollectedAt time.Time                       `gorm:"not null"`
	Status      Status                          `gorm:"type:text;not null;default:'pending';index"`
	ReviewedBy  *string                         `gorm:"type:text"`
	ReviewedAt  *time.Time                      `gorm:""`
	Flags       datatypes.JSONSlice[QualityFlag] `gorm:"type:jsonb"`
	CreatedAt   time.Time                       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time                       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Measurement) TableName() string { return "measurements" }

// HasLocation reports whether the measurement carries a geographic point.
func (m *Measurement) HasLocation() bool {
	return m.Latitude != nil && m.Longitude != nil
}

// HasFlag reports whether a flag of the given type is already attached.
func (m *Measurement) HasFlag(t FlagType) bool {
	for _, f := range m.Flags {
		if f.Type == t {
			return true
		}
	}
	return false
}
