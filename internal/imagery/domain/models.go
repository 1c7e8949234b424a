// Package domain contains types for the external imagery-processing service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// IndexKind identifies one spectral index derived from satellite bands.
type IndexKind string

const (
	IndexNDVI  IndexKind = "ndvi"  // normalized difference vegetation
	IndexNDMI  IndexKind = "ndmi"  // normalized difference moisture
	IndexNDRE  IndexKind = "ndre"  // red-edge vegetation
	IndexEVI   IndexKind = "evi"   // enhanced vegetation
	IndexMSI   IndexKind = "msi"   // moisture stress, 0..3 range
	IndexSAVI  IndexKind = "savi"  // soil-adjusted vegetation
	IndexGNDVI IndexKind = "gndvi" // green vegetation
)

// AllIndexKinds returns the fixed enrichment index set in a stable order.
func AllIndexKinds() []IndexKind {
	return []IndexKind{
		IndexNDVI, IndexNDMI, IndexNDRE, IndexEVI, IndexMSI, IndexSAVI, IndexGNDVI,
	}
}

// CallType classifies an external imagery-API invocation.
type CallType string

const (
	CallTypeEnrichment CallType = "enrichment"
	CallTypeOverlay    CallType = "overlay"
	CallTypeAnalysis   CallType = "analysis"
)

// FetchRequest asks for one spectral-index aggregate at a location/date.
type FetchRequest struct {
	Latitude   float64
	Longitude  float64
	Date       time.Time
	Index      IndexKind
	TileWidth  int
	TileHeight int

	// audit attribution
	CallType      CallType
	MeasurementID *snowflake.ID
	CampaignID    snowflake.ID
	UserID        snowflake.ID
}

// IndexResult is one decoded spectral-index aggregate. Coordinates echo
// the service response and are bit-identical for cached repeats.
type IndexResult struct {
	Index     IndexKind
	Value     float64
	Latitude  float64
	Longitude float64
}

// ApiCallRecord is an append-only audit row, one per imagery-API
// invocation (cache hits included).
type ApiCallRecord struct {
	ID              snowflake.ID      `gorm:"primaryKey"`
	MeasurementID   *snowflake.ID     `gorm:"index"`
	CampaignID      snowflake.ID      `gorm:"not null;index"`
	UserID          snowflake.ID      `gorm:"not null;index"`
	CallType        CallType          `gorm:"type:text;not null"`
	IndexKind       IndexKind         `gorm:"type:text;not null"`
	Latitude        float64           `gorm:"not null"`
	Longitude       float64           `gorm:"not null"`
	AcquisitionDate time.Time         `gorm:"not null"`
	Cached          bool              `gorm:"not null"`
	LatencyMS       int64             `gorm:"not null"`
	CostCredits     float64           `gorm:"not null"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ApiCallRecord) TableName() string { return "api_call_records" }
