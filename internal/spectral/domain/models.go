// Package domain contains the persistence model for enrichment results.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	imagerydomain "github.com/fieldscope/fieldscope/internal/imagery/domain"
	"gorm.io/datatypes"
)

// SpectralAnalysis aggregates remote-sensing index values for one
// measurement (or standalone by campaign and location). At most one row
// per measurement per enrichment run; a run with zero successful index
// fetches writes no row. Immutable after creation.
type SpectralAnalysis struct {
	ID              snowflake.ID      `gorm:"primaryKey"`
	MeasurementID   *snowflake.ID     `gorm:"uniqueIndex"`
	CampaignID      snowflake.ID      `gorm:"not null;index"`
	Latitude        float64           `gorm:"not null"`
	Longitude       float64           `gorm:"not null"`
	AcquisitionDate time.Time         `gorm:"not null"`
	Source          string            `gorm:"type:text;not null"`
	NDVI            *float64          `gorm:""`
	NDMI            *float64          `gorm:""`
	NDRE            *float64          `gorm:""`
	EVI             *float64          `gorm:""`
	MSI             *float64          `gorm:""`
	SAVI            *float64          `gorm:""`
	GNDVI           *float64          `gorm:""`
	CloudCoverPct   *float64          `gorm:""`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SpectralAnalysis) TableName() string { return "spectral_analyses" }

// SetIndexValue assigns one decoded index value to its column.
func (a *SpectralAnalysis) SetIndexValue(kind imagerydomain.IndexKind, value float64) {
	v := value
	switch kind {
	case imagerydomain.IndexNDVI:
		a.NDVI = &v
	case imagerydomain.IndexNDMI:
		a.NDMI = &v
	case imagerydomain.IndexNDRE:
		a.NDRE = &v
	case imagerydomain.IndexEVI:
		a.EVI = &v
	case imagerydomain.IndexMSI:
		a.MSI = &v
	case imagerydomain.IndexSAVI:
		a.SAVI = &v
	case imagerydomain.IndexGNDVI:
		a.GNDVI = &v
	}
}

// IndexValue reads one index column back by kind.
func (a *SpectralAnalysis) IndexValue(kind imagerydomain.IndexKind) *float64 {
	switch kind {
	case imagerydomain.IndexNDVI:
		return a.NDVI
	case imagerydomain.IndexNDMI:
		return a.NDMI
	case imagerydomain.IndexNDRE:
		return a.NDRE
	case imagerydomain.IndexEVI:
		return a.EVI
	case imagerydomain.IndexMSI:
		return a.MSI
	case imagerydomain.IndexSAVI:
		return a.SAVI
	case imagerydomain.IndexGNDVI:
		return a.GNDVI
	}
	return nil
}
