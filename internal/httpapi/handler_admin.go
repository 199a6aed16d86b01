package httpapi

import (
	"net/http"

	"venue-loyalty/pkg/db/pagination"
	"venue-loyalty/pkg/errutil"
	"venue-loyalty/services/catalog"
	"venue-loyalty/services/customer"
	"venue-loyalty/services/redemption"
	"venue-loyalty/services/settings"

	"github.com/gin-gonic/gin"
)

func (h *Handler) getSettings(c *gin.Context) {
	snap, err := h.settings.Get(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) updateSettings(c *gin.Context) {
	var req settings.UpdateParams
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := h.settings.Update(c.Request.Context(), req); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type setLogoRequest struct {
	Path string `json:"path" binding:"required"`
}

func (h *Handler) setLogo(c *gin.Context) {
	var req setLogoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := h.settings.SetLogoPath(c.Request.Context(), req.Path); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listCustomers(c *gin.Context) {
	rows, err := h.customer.List(c.Request.Context(), customer.ListParams{
		Tier:  c.Query("tier"),
		Limit: queryLimit(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": rows})
}

func (h *Handler) customerProfile(c *gin.Context) {
	profile, err := h.customer.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) updateCustomer(c *gin.Context) {
	var req customer.UpdateParams
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	row, err := h.customer.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *Handler) deleteCustomer(c *gin.Context) {
	if err := h.customer.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type creditRequest struct {
	Points      int64             `json:"points" binding:"required"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

func (h *Handler) creditPoints(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	result, err := h.customer.CreditPoints(c.Request.Context(), customer.CreditPointsParams{
		CustomerID:  c.Param("id"),
		Points:      req.Points,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) adminCheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		respondBindError(c, err)
		return
	}

	result, err := h.customer.CheckIn(c.Request.Context(), customer.CheckInParams{
		CustomerID: c.Param("id"),
		Location:   req.Location,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) customerLedger(c *gin.Context) {
	entries, err := h.ledger.History(c.Request.Context(), c.Param("id"), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) ranking(c *gin.Context) {
	rows, err := h.customer.Ranking(c.Request.Context(), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": rows})
}

func (h *Handler) statistics(c *gin.Context) {
	stats, err := h.customer.Statistics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) adminListProducts(c *gin.Context) {
	rows, err := h.catalog.List(c.Request.Context(), catalog.ListParams{Limit: queryLimit(c)})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": rows})
}

func (h *Handler) createProduct(c *gin.Context) {
	var req catalog.ProductParams
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	row, err := h.catalog.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

func (h *Handler) updateProduct(c *gin.Context) {
	var req catalog.ProductParams
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	row, err := h.catalog.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *Handler) setProductActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := h.catalog.SetActive(c.Request.Context(), c.Param("id"), *req.Active); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	if err := h.catalog.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listRedemptions(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		respondError(c, errutil.BadRequest("invalid pagination", err))
		return
	}

	result, err := h.redemption.List(c.Request.Context(), redemption.ListParams{
		Status:     c.Query("status"),
		Pagination: page,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type decideRequest struct {
	Approve *bool  `json:"approve" binding:"required"`
	Note    string `json:"note"`
}

func (h *Handler) decideRedemption(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	decision, err := h.redemption.Decide(c.Request.Context(), redemption.DecideParams{
		RequestID: c.Param("id"),
		Approve:   *req.Approve,
		DecidedBy: "admin",
		Note:      req.Note,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}
