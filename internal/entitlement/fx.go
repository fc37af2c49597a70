// Package entitlement wires the ledger record store.
package entitlement

import (
	"github.com/smallbiznis/purchaseledger/internal/entitlement/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement",
	fx.Provide(repository.Provide),
)
