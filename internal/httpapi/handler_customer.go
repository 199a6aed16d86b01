package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"venue-loyalty/services/catalog"
	"venue-loyalty/services/customer"
	"venue-loyalty/services/redemption"

	"github.com/gin-gonic/gin"
)

func queryLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.Query("limit"))
	return limit
}

func (h *Handler) myProfile(c *gin.Context) {
	profile, err := h.customer.Profile(c.Request.Context(), sessionCustomerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) myLedger(c *gin.Context) {
	entries, err := h.ledger.History(c.Request.Context(), sessionCustomerID(c), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) myCheckIns(c *gin.Context) {
	rows, err := h.customer.CheckInHistory(c.Request.Context(), sessionCustomerID(c), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"check_ins": rows})
}

func (h *Handler) myCanCheckIn(c *gin.Context) {
	ok, err := h.customer.CanCheckIn(c.Request.Context(), sessionCustomerID(c), time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"can_check_in": ok})
}

type checkInRequest struct {
	Location string `json:"location"`
}

func (h *Handler) myCheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		respondBindError(c, err)
		return
	}

	result, err := h.customer.CheckIn(c.Request.Context(), customer.CheckInParams{
		CustomerID: sessionCustomerID(c),
		Location:   req.Location,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type setPasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

func (h *Handler) mySetPassword(c *gin.Context) {
	var req setPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := h.customer.SetPassword(c.Request.Context(), sessionCustomerID(c), req.Password); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listProducts(c *gin.Context) {
	rows, err := h.catalog.List(c.Request.Context(), catalog.ListParams{
		ActiveOnly: true,
		Limit:      queryLimit(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": rows})
}

func (h *Handler) myRedemptions(c *gin.Context) {
	rows, err := h.redemption.ListByCustomer(c.Request.Context(), sessionCustomerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": rows})
}

type submitRedemptionRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required"`
	Note      string `json:"note"`
}

func (h *Handler) mySubmitRedemption(c *gin.Context) {
	var req submitRedemptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	row, err := h.redemption.Submit(c.Request.Context(), redemption.SubmitParams{
		CustomerID: sessionCustomerID(c),
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		Note:       req.Note,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}
