// Package domain contains persistence models for user accounts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PlanTier is the subscription tier used for quota and rate-limit lookups.
type PlanTier string

const (
	TierFree       PlanTier = "free"
	TierPro        PlanTier = "pro"
	TierEnterprise PlanTier = "enterprise"
)

// User owns measurements and carries the billing anchor for usage cycles.
type User struct {
	ID                    snowflake.ID `gorm:"primaryKey"`
	Email                 string       `gorm:"type:text;not null;uniqueIndex"`
	Tier                  PlanTier     `gorm:"type:text;not null;default:'free'"`
	SubscriptionStartedAt *time.Time   `gorm:""`
	CreatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// BillingAnchor is the instant usage cycles are derived from: the
// subscription start when present, the account creation time otherwise.
func (u User) BillingAnchor() time.Time {
	if u.SubscriptionStartedAt != nil {
		return u.SubscriptionStartedAt.UTC()
	}
	return u.CreatedAt.UTC()
}
