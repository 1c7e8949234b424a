package migration

import (
	accountdomain "github.com/fieldscope/fieldscope/internal/account/domain"
	"github.com/fieldscope/fieldscope/internal/config"
	imagerydomain "github.com/fieldscope/fieldscope/internal/imagery/domain"
	measurementdomain "github.com/fieldscope/fieldscope/internal/measurement/domain"
	spectraldomain "github.com/fieldscope/fieldscope/internal/spectral/domain"
	usagedomain "github.com/fieldscope/fieldscope/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres dialects (local sqlite, mysql) derive the schema
		// from the models.
		return conn.AutoMigrate(
			&accountdomain.User{},
			&measurementdomain.Measurement{},
			&spectraldomain.SpectralAnalysis{},
			&usagedomain.UsageCounter{},
			&imagerydomain.ApiCallRecord{},
		)
	}),
)
