package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"venue-loyalty/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const customerIDKey = "session.customer_id"

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func (h *Handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.sessions.IsAdmin(bearerToken(c)) {
			respondError(c, errutil.Unauthorized("admin token required", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (h *Handler) requireCustomer() gin.HandlerFunc {
	return func(c *gin.Context) {
		customerID, ok := h.sessions.CustomerID(bearerToken(c))
		if !ok {
			respondError(c, errutil.Unauthorized("customer token required", nil))
			c.Abort()
			return
		}
		c.Set(customerIDKey, customerID)
		c.Next()
	}
}

func sessionCustomerID(c *gin.Context) string {
	return c.GetString(customerIDKey)
}

// respondError translates service errors into HTTP responses. Anything
// that is not a BaseError is an unclassified failure and reads as 500.
func respondError(c *gin.Context, err error) {
	var be errutil.BaseError
	if errors.As(err, &be) {
		if be.Status() == errutil.StatusInternal {
			zap.L().Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		}
		c.JSON(be.Code.HTTPStatus(), be.JSON())
		return
	}

	zap.L().Error("unclassified request failure", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{"code": errutil.StatusInternal, "message": "internal error"},
	})
}

func respondBindError(c *gin.Context, err error) {
	respondError(c, errutil.BadRequest("invalid request body", err))
}
