// Package domain defines the enrichment trigger contract used by the
// ingestion path.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Trigger schedules asynchronous enrichment for a newly created
// measurement. Fire and forget: the creator observes immediate success
// and enrichment completes later.
type Trigger interface {
	Enqueue(measurementID snowflake.ID)
}

// Service runs the enrichment pipeline for one measurement.
type Service interface {
	Trigger
	// Run executes one enrichment pass. It never leaves a half-written
	// analysis row: either one complete row or none.
	Run(ctx context.Context, measurementID snowflake.ID) error
}

var ErrQueueFull = errors.New("enrichment_queue_full")
