package api

import (
	"net/http"

	"github.com/tokmz/stsrt"
)

type deleteKeyReq struct {
	Key string `uri:"key" binding:"required"`
}

// cacheStats GET /api/v1/cache/stats
func (h *Handler) cacheStats(c *stsrt.Context) {
	c.JSON(http.StatusOK, h.cache.Stats(c.RequestContext()))
}

// cacheClear POST /api/v1/cache/clear
func (h *Handler) cacheClear(c *stsrt.Context) {
	if err := h.cache.Clear(c.RequestContext()); err != nil {
		c.RespondError(err)
		return
	}
	c.JSON(http.StatusOK, &stsrt.MessageResponse{Message: "Response cache cleared successfully"})
}

// cacheDelete DELETE /api/v1/cache/keys/:key
func (h *Handler) cacheDelete(c *stsrt.Context, req *deleteKeyReq) error {
	return h.cache.Delete(c.RequestContext(), req.Key)
}
