package handler

import (
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, "OK")
}

type statsResponse struct {
	Source      string `json:"source"`
	MinZoom     int    `json:"min_zoom"`
	MaxZoom     int    `json:"max_zoom"`
	UsesNetwork bool   `json:"uses_network"`
	Pending     int    `json:"pending"`
	Working     int    `json:"working"`
	Runners     int    `json:"runners"`
	PoolSize    int    `json:"pool_size"`
	Capacity    int    `json:"capacity"`
	MemoryTiles int    `json:"memory_tiles"`
	Detached    bool   `json:"detached"`
	DiskUsage   string `json:"disk_usage,omitempty"`
}

func (h *Handler) Stats(c *gin.Context) {
	stats := h.provider.Stats()

	resp := statsResponse{
		Source:      h.provider.Source().Name(),
		MinZoom:     h.provider.MinZoom(),
		MaxZoom:     h.provider.MaxZoom(),
		UsesNetwork: stats.UsesNetwork,
		Pending:     stats.Pending,
		Working:     stats.Working,
		Runners:     stats.Runners,
		PoolSize:    stats.PoolSize,
		Capacity:    stats.Capacity,
		MemoryTiles: stats.MemoryTiles,
		Detached:    stats.Detached,
	}
	if h.quota != nil {
		resp.DiskUsage = humanize.IBytes(uint64(max(h.quota.Usage(), 0)))
	}

	h.RespondWithJSON(c, http.StatusOK, "tile cache stats", resp)
}
