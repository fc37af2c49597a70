package config

import (
	"github.com/smallbiznis/purchaseledger/internal/catalog"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(provideCatalog),
)

func provideCatalog(cfg Config) (*catalog.Catalog, error) {
	return LoadCatalog(cfg.CatalogPath)
}
