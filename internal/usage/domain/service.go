package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// QuotaExceededError is returned when an action would push usage past the
// tier limit. ResetAt tells the caller when the active cycle rolls over.
type QuotaExceededError struct {
	Resource Resource
	Tier     string
	Limit    int64
	Used     int64
	ResetAt  time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (%d/%d on %s tier), resets at %s",
		e.Resource, e.Used, e.Limit, e.Tier, e.ResetAt.Format(time.RFC3339))
}

// Window is one billing cycle for a user.
type Window struct {
	Start time.Time
	End   time.Time
}

type Service interface {
	// Record increments the active-cycle counter inside one transaction.
	Record(ctx context.Context, userID snowflake.ID, resource Resource) error
	// CheckAndRecord gates against the tier limit and increments in the
	// same transaction; over-limit rolls back with *QuotaExceededError.
	CheckAndRecord(ctx context.Context, userID snowflake.ID, resource Resource) error
	// CurrentUsage returns the active-cycle count; no row means zero.
	CurrentUsage(ctx context.Context, userID snowflake.ID, resource Resource) (int64, error)
	// CanPerform reports whether one more action fits under the limit.
	CanPerform(ctx context.Context, userID snowflake.ID, resource Resource) (bool, error)
	// CycleWindow returns the active billing cycle for the user.
	CycleWindow(ctx context.Context, userID snowflake.ID) (Window, error)
}

var (
	ErrInvalidResource = errors.New("invalid_resource")
	ErrInvalidUser     = errors.New("invalid_user")
)
