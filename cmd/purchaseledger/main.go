package main

import (
	"github.com/smallbiznis/purchaseledger/internal/clock"
	"github.com/smallbiznis/purchaseledger/internal/config"
	"github.com/smallbiznis/purchaseledger/internal/entitlement"
	"github.com/smallbiznis/purchaseledger/internal/migration"
	"github.com/smallbiznis/purchaseledger/internal/observability"
	"github.com/smallbiznis/purchaseledger/internal/reconcile"
	"github.com/smallbiznis/purchaseledger/internal/server"
	"github.com/smallbiznis/purchaseledger/internal/storefront"
	"github.com/smallbiznis/purchaseledger/internal/writelock"
	"github.com/smallbiznis/purchaseledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		// Core Infrastructure
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
		clock.Module,
		writelock.Module,

		// Ledger
		entitlement.Module,
		storefront.Module,
		reconcile.Module,

		server.Module,
	)
	app.Run()
}
