package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type networkRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type networkResponse struct {
	Enabled bool `json:"enabled"`
}

// SetNetwork switches origin downloads on or off.
func (h *Handler) SetNetwork(c *gin.Context) {
	var req networkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithJSON(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.RespondWithJSON(c, http.StatusBadRequest, "enabled is required", nil)
		return
	}

	enabled := h.provider.SetUseNetwork(*req.Enabled)
	if *req.Enabled && !enabled {
		h.RespondWithJSON(c, http.StatusConflict, "no upstream configured", networkResponse{Enabled: false})
		return
	}

	h.RespondWithJSON(c, http.StatusOK, "network setting updated", networkResponse{Enabled: enabled})
}
