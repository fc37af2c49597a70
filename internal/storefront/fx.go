package storefront

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/purchaseledger/internal/storefront/domain"
	"github.com/smallbiznis/purchaseledger/internal/storefront/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("storefront",
	fx.Provide(repository.Provide),
	fx.Provide(NewHub),
	fx.Provide(newIDNode),
	fx.Provide(NewService),
	fx.Provide(
		func(s *Service) domain.Source { return s },
		func(s *Service) domain.RenewalQuerier { return s },
	),
	fx.Invoke(registerHubShutdown),
)

func newIDNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func registerHubShutdown(lc fx.Lifecycle, hub *Hub) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			hub.Close()
			return nil
		},
	})
}
