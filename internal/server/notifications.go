package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/purchaseledger/internal/observability/context"
	"github.com/smallbiznis/purchaseledger/internal/storefront"
	storedomain "github.com/smallbiznis/purchaseledger/internal/storefront/domain"
	"go.uber.org/zap"
)

const maxNotificationBytes = 1 << 20

// HandleNotification accepts a storefront push notification. When a webhook
// secret is configured the body must carry a valid signature.
func (s *Server) HandleNotification(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotificationBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if secret := strings.TrimSpace(s.cfg.WebhookSecret); secret != "" {
		if err := storefront.VerifySignature(secret, payload, c.GetHeader(storefront.SignatureHeader)); err != nil {
			s.log.Warn("notification signature rejected", zap.Error(err))
			AbortWithError(c, err)
			return
		}
	}

	var notification storedomain.Notification
	if err := json.Unmarshal(payload, &notification); err != nil {
		AbortWithError(c, storedomain.ErrInvalidPayload)
		return
	}
	notification.Raw = payload
	if notification.Transaction != nil {
		c.Set(obscontext.KeyProductID, strings.TrimSpace(notification.Transaction.ProductID))
	}

	result, err := s.notifications.Ingest(c.Request.Context(), notification)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
