package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/purchaseledger/internal/catalog"
	entdomain "github.com/smallbiznis/purchaseledger/internal/entitlement/domain"
	obscontext "github.com/smallbiznis/purchaseledger/internal/observability/context"
	"github.com/smallbiznis/purchaseledger/internal/projection"
)

type entitlementResponse struct {
	ProductID catalog.ProductID `json:"product_id"`
	Kind      catalog.Kind      `json:"kind"`
	Owned     bool              `json:"owned"`
}

type balanceResponse struct {
	ProductID catalog.ProductID `json:"product_id"`
	Quantity  int64             `json:"quantity"`
}

type renewalResponse struct {
	ProductID catalog.ProductID `json:"product_id"`
	projection.Renewal
}

type quantityRequest struct {
	Quantity int64 `json:"quantity"`
}

func (s *Server) GetSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.ledger.Snapshot())
}

func (s *Server) GetEntitlement(c *gin.Context) {
	product, ok := s.productParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.entitlement(product))
}

func (s *Server) GrantEntitlement(c *gin.Context) {
	product, ok := s.productParam(c)
	if !ok {
		return
	}
	if err := s.ledger.Grant(c.Request.Context(), product.ID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.entitlement(product))
}

func (s *Server) RevokeEntitlement(c *gin.Context) {
	product, ok := s.productParam(c)
	if !ok {
		return
	}
	if err := s.ledger.Revoke(c.Request.Context(), product.ID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.entitlement(product))
}

func (s *Server) GetBalance(c *gin.Context) {
	product, ok := s.productParam(c)
	if !ok {
		return
	}
	if product.Kind != catalog.KindConsumable {
		AbortWithError(c, entdomain.NewError(entdomain.KindUnsupportedProductType, product.ID.String(), nil))
		return
	}
	c.JSON(http.StatusOK, s.balance(product.ID))
}

func (s *Server) CreditBalance(c *gin.Context) {
	product, quantity, ok := s.quantityRequest(c)
	if !ok {
		return
	}
	if err := s.ledger.Credit(c.Request.Context(), product.ID, quantity); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.balance(product.ID))
}

func (s *Server) ConsumeBalance(c *gin.Context) {
	product, quantity, ok := s.quantityRequest(c)
	if !ok {
		return
	}
	if err := s.ledger.Consume(c.Request.Context(), product.ID, quantity); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.balance(product.ID))
}

func (s *Server) GetRenewal(c *gin.Context) {
	product, ok := s.productParam(c)
	if !ok {
		return
	}
	renewal, found := s.ledger.Snapshot().Renewal(product.ID)
	if !found {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, renewalResponse{ProductID: product.ID, Renewal: renewal})
}

func (s *Server) RefreshRenewals(c *gin.Context) {
	if err := s.ledger.RefreshSubscriptionStatus(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ledger.Snapshot())
}

func (s *Server) Sync(c *gin.Context) {
	if err := s.ledger.Sync(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ledger.Snapshot())
}

// productParam resolves the :product path parameter against the catalog.
func (s *Server) productParam(c *gin.Context) (catalog.Product, bool) {
	raw := strings.TrimSpace(c.Param("product"))
	if raw == "" {
		AbortWithError(c, invalidRequestError())
		return catalog.Product{}, false
	}

	cat := s.ledger.Catalog()
	id, ok := cat.Lookup(raw)
	if !ok {
		AbortWithError(c, entdomain.NewError(entdomain.KindUnknownProduct, raw, nil))
		return catalog.Product{}, false
	}
	c.Set(obscontext.KeyProductID, id.String())

	product, _ := cat.Product(id)
	return product, true
}

func (s *Server) quantityRequest(c *gin.Context) (catalog.Product, int64, bool) {
	product, ok := s.productParam(c)
	if !ok {
		return catalog.Product{}, 0, false
	}

	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("quantity", "invalid_quantity", "quantity must be an integer"))
		return catalog.Product{}, 0, false
	}
	return product, req.Quantity, true
}

func (s *Server) entitlement(product catalog.Product) entitlementResponse {
	return entitlementResponse{
		ProductID: product.ID,
		Kind:      product.Kind,
		Owned:     s.ledger.Snapshot().Owns(product.ID),
	}
}

func (s *Server) balance(id catalog.ProductID) balanceResponse {
	return balanceResponse{ProductID: id, Quantity: s.ledger.Snapshot().Balance(id)}
}
