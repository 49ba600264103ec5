package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/usecase"
)

const (
	internalServerErrorText = "the server encountered an error and could not process your request"
)

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type Handler struct {
	validate    *validator.Validate
	provider    *usecase.TileCacheProvider
	quota       *cache.QuotaTracker
	tileTimeout time.Duration
}

// NewHandler builds the HTTP handlers. quota may be nil.
func NewHandler(v *validator.Validate, p *usecase.TileCacheProvider, quota *cache.QuotaTracker, tileTimeout time.Duration) *Handler {
	if tileTimeout <= 0 {
		tileTimeout = 10 * time.Second
	}
	return &Handler{
		validate:    v,
		provider:    p,
		quota:       quota,
		tileTimeout: tileTimeout,
	}
}

func (h *Handler) RespondWithInternalServerError(c *gin.Context) {
	h.RespondWithJSON(c, http.StatusInternalServerError, internalServerErrorText, nil)
}

func (h *Handler) RespondWithJSON(c *gin.Context, code int, message string, data any) {
	success := code < 400

	r := response{
		Success: success,
		Message: message,
		Data:    data,
	}

	c.JSON(code, r)
}
