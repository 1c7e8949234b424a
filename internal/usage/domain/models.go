// Package domain contains persistence models for per-cycle usage metering.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Resource is a billable resource kind. The vocabulary is fixed.
type Resource string

const (
	ResourceDataPoints        Resource = "data_points"
	ResourceSatelliteAnalyses Resource = "satellite_analyses"
	ResourceReportExports     Resource = "report_exports"
)

// Valid reports whether r is one of the known resource kinds.
func (r Resource) Valid() bool {
	switch r {
	case ResourceDataPoints, ResourceSatelliteAnalyses, ResourceReportExports:
		return true
	}
	return false
}

// UsageCounter is one row per (user, resource, billing-cycle start).
// Count only grows within a cycle; a new cycle creates a new row.
type UsageCounter struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	UserID     snowflake.ID `gorm:"not null;uniqueIndex:ux_usage_counter_cycle,priority:1"`
	Resource   Resource     `gorm:"type:text;not null;uniqueIndex:ux_usage_counter_cycle,priority:2"`
	CycleStart time.Time    `gorm:"not null;uniqueIndex:ux_usage_counter_cycle,priority:3"`
	CycleEnd   time.Time    `gorm:"not null"`
	Count      int64        `gorm:"not null;default:0"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageCounter) TableName() string { return "usage_counters" }
