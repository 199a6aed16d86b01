package httpapi

import (
	"net/http"

	"venue-loyalty/services/customer"

	"github.com/gin-gonic/gin"
)

type adminLoginRequest struct {
	Credential string `json:"credential" binding:"required"`
}

func (h *Handler) adminLogin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := h.settings.VerifyAdminCredential(c.Request.Context(), req.Credential); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": h.sessions.MintAdmin()})
}

type customerLoginRequest struct {
	Phone    string `json:"phone" binding:"required"`
	Password string `json:"password"`
}

func (h *Handler) customerLogin(c *gin.Context) {
	var req customerLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	row, err := h.customer.LoginByPhone(c.Request.Context(), req.Phone, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":    h.sessions.MintCustomer(row.ID),
		"customer": row,
	})
}

func (h *Handler) logout(c *gin.Context) {
	if token := bearerToken(c); token != "" {
		h.sessions.Revoke(token)
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) register(c *gin.Context) {
	var req customer.RegisterParams
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	row, err := h.customer.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, row)
}
