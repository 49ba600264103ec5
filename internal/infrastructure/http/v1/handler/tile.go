package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/upstream"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/usecase"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
)

const outcomeHeader = "X-Tile-Outcome"

type tileParams struct {
	Source string `validate:"required,max=64"`
	Z      int    `validate:"gte=0,lte=30"`
	X      int    `validate:"gte=0"`
	Y      int    `validate:"gte=0"`
}

func (h *Handler) Tile(c *gin.Context) {
	log, _ := c.Get("logger")
	l, ok := log.(logger.Logger)
	if !ok {
		l = logger.NewNop()
	}

	params := tileParams{Source: c.Param("source")}
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"z", &params.Z},
		{"x", &params.X},
		{"y", &params.Y},
	} {
		v, err := strconv.Atoi(c.Param(p.name))
		if err != nil {
			l.Warn("invalid tile parameter", p.name, c.Param(p.name), "error", err)
			h.RespondWithJSON(c, http.StatusBadRequest, p.name+" should be integer", nil)
			return
		}
		*p.dst = v
	}

	if err := h.validate.Struct(params); err != nil {
		l.Warn("tile parameters rejected", "error", err)
		h.RespondWithJSON(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if params.Source != h.provider.Source().Name() {
		h.RespondWithJSON(c, http.StatusNotFound, "unknown tile source", nil)
		return
	}

	k := tile.NewKey(params.Source, params.Z, params.X, params.Y)
	l.Debug("tile request", "z", k.Zoom, "x", k.X, "y", k.Y, "source", k.Source)

	results, err := h.provider.RequestChan(k)
	if err != nil {
		code := statusFor(err)
		l.Warn("tile request rejected", "tile", k.String(), "error", err)
		h.RespondWithJSON(c, code, err.Error(), nil)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.tileTimeout)
	defer cancel()

	select {
	case res := <-results:
		c.Header(outcomeHeader, res.Outcome.String())
		if !res.OK() {
			l.Info("tile unavailable", "tile", k.String(), "error", res.Err)
			h.RespondWithJSON(c, statusFor(res.Err), res.Err.Error(), nil)
			return
		}
		c.Data(http.StatusOK, http.DetectContentType(res.Data), res.Data)

	case <-ctx.Done():
		l.Warn("timed out waiting for tile", "tile", k.String())
		h.RespondWithJSON(c, http.StatusGatewayTimeout, "timed out waiting for tile", nil)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, usecase.ErrInvalidTile):
		return http.StatusBadRequest
	case errors.Is(err, upstream.ErrNotFound),
		errors.Is(err, upstream.ErrNotFoundSuppressed),
		errors.Is(err, cache.ErrNotCached):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrDetached),
		errors.Is(err, usecase.ErrEvicted),
		errors.Is(err, tile.ErrLowMemory),
		errors.Is(err, upstream.ErrOffline):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
