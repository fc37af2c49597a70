package migration

import (
	"context"

	"github.com/smallbiznis/purchaseledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg db.Config, log *zap.Logger) error {
		if !cfg.AutoMigrate {
			log.Info("migrations disabled")
			return nil
		}

		if conn.Dialector.Name() == db.TypePostgres {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
			log.Info("migrations applied", zap.String("driver", "postgres"))
			return nil
		}

		if err := AutoMigrate(context.Background(), conn); err != nil {
			return err
		}
		log.Info("migrations applied", zap.String("driver", conn.Dialector.Name()))
		return nil
	}),
)
