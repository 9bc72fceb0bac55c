package conversion

import (
	"errors"
	"net/http"
	"strconv"

	"mediaconv/pkg/errutil"
	"mediaconv/pkg/httpapi"
	"mediaconv/services/account"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func RegisterRoutes(r *httpapi.Router, h *Handler) {
	r.V1.POST("/accounts/:id/sessions", h.BeginSession)
	r.V1.DELETE("/accounts/:id/sessions", h.CancelSession)
	r.V1.POST("/accounts/:id/conversions", h.SelectFormat)
	r.V1.GET("/formats/:kind", h.Formats)
}

// MapError turns pipeline errors into transport errors. Rejections carry
// their user-facing message; transient failures ask the caller to retry.
func MapError(err error) error {
	var (
		rej  *RejectionError
		fail *FailureError
		verr validator.ValidationErrors
	)
	switch {
	case errors.As(err, &rej):
		if rej.Reason == ReasonSessionNotFound {
			return errutil.NotFound(rej.Message(), err)
		}
		return errutil.UnprocessableEntity(rej.Message(), err,
			errutil.WithDetails(errutil.Detail{Field: "reason", Message: string(rej.Reason)}))
	case errors.As(err, &fail):
		return errutil.BadGateway("conversion failed, try again later", err,
			errutil.WithDetails(errutil.Detail{Field: "step", Message: string(fail.Step)}))
	case errors.As(err, &verr):
		details := make([]errutil.Detail, 0, len(verr))
		for _, fe := range verr {
			details = append(details, errutil.Detail{Field: fe.Field(), Message: fe.Tag()})
		}
		return errutil.ValidationFailed("invalid request", err, errutil.WithDetails(details...))
	default:
		return account.MapError(err)
	}
}

func (h *Handler) BeginSession(c *gin.Context) {
	id, err := account.ParseAccountID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req BeginSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	req.AccountID = id

	sess, err := h.service.BeginSession(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(MapError(err))
		return
	}

	formats, _ := h.service.Formats(sess.MediaKind)
	c.JSON(http.StatusCreated, gin.H{
		"session_id": strconv.FormatInt(sess.ID, 10),
		"expires_at": sess.ExpiresAt,
		"formats":    formats,
	})
}

func (h *Handler) CancelSession(c *gin.Context) {
	id, err := account.ParseAccountID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := h.service.CancelSession(c.Request.Context(), id); err != nil {
		_ = c.Error(MapError(err))
		return
	}

	c.Status(http.StatusNoContent)
}

type selectFormatRequest struct {
	Format string `json:"format" binding:"required"`
}

func (h *Handler) SelectFormat(c *gin.Context) {
	id, err := account.ParseAccountID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req selectFormatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("format is required", err))
		return
	}

	out, err := h.service.SelectFormat(c.Request.Context(), id, req.Format)
	if err != nil {
		_ = c.Error(MapError(err))
		return
	}

	c.JSON(http.StatusOK, out)
}

func (h *Handler) Formats(c *gin.Context) {
	formats, err := h.service.Formats(c.Param("kind"))
	if err != nil {
		_ = c.Error(MapError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"kind": c.Param("kind"), "formats": formats})
}
