package account

import (
	"errors"
	"net/http"
	"strconv"

	"mediaconv/pkg/db/pagination"
	"mediaconv/pkg/errutil"
	"mediaconv/pkg/httpapi"
	"mediaconv/services/ledger"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
	ledger  *ledger.Service
}

func NewHandler(service *Service, l *ledger.Service) *Handler {
	return &Handler{service: service, ledger: l}
}

func RegisterRoutes(r *httpapi.Router, h *Handler) {
	r.V1.GET("/accounts/:id/balance", h.GetBalance)

	r.Admin.POST("/accounts/:id/credits", h.AdjustCredits)
	r.Admin.POST("/accounts/:id/reset", h.Reset)
	r.Admin.GET("/accounts/:id/entries", h.ListEntries)
	r.Admin.GET("/accounts/:id/verify", h.VerifyChain)
	r.Admin.GET("/stats", h.Stats)
}

// ParseAccountID reads the :id path parameter.
func ParseAccountID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errutil.BadRequest("invalid account id", err)
	}
	return id, nil
}

// MapError turns ledger errors into transport errors.
func MapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return errutil.NotFound("account not found", err)
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return errutil.UnprocessableEntity("insufficient credits", err)
	case errors.Is(err, ledger.ErrInvalidAmount):
		return errutil.BadRequest("amount must not be zero", err)
	case errors.Is(err, ledger.ErrConcurrentUpdate):
		return errutil.Conflict("balance changed concurrently, retry", err)
	default:
		return err
	}
}

func (h *Handler) GetBalance(c *gin.Context) {
	id, err := ParseAccountID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	balance, err := h.service.GetBalance(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(MapError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"account_id": id, "balance": balance})
}

type adjustRequest struct {
	Delta int64 `json:"delta" binding:"required"`
}

func (h *Handler) AdjustCredits(c *gin.Context) {
	id, err := ParseAccountID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("delta is required and must be non-zero", err))
		return
	}

	balance, err := h.service.Adjust(c.Request.Context(), id, req.Delta)
	if err != nil {
		_ = c.Error(MapError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"account_id": id, "balance": balance})
}

func (h *Handler) Reset(c *gin.Context) {
	id, err := ParseAccountID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := h.service.Reset(c.Request.Context(), id); err != nil {
		_ = c.Error(MapError(err))
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) ListEntries(c *gin.Context) {
	id, err := ParseAccountID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid pagination", err))
		return
	}

	entries, info, err := h.ledger.ListEntries(c.Request.Context(), id, page)
	if err != nil {
		_ = c.Error(errutil.BadRequest("failed to list entries", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries, "page_info": info})
}

func (h *Handler) VerifyChain(c *gin.Context) {
	id, err := ParseAccountID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	valid, err := h.ledger.VerifyChain(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"account_id": id, "valid": valid})
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
