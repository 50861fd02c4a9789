package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"parkpeek-guard/internal/mw"
	"parkpeek-guard/internal/store"
)

// GetLocations handles GET /api/locations with the cached, clamped occupancy of every location.
func (h *Handler) GetLocations(c *gin.Context) {
	c.JSON(http.StatusOK, h.occupancy.Snapshot())
}

// GetLocation handles GET /api/locations/:name.
func (h *Handler) GetLocation(c *gin.Context) {
	entry, ok := h.occupancy.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "location not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Recount handles POST /api/locations/:name/recount. The counter is rebuilt from the
// active sessions; it is never set from a client-supplied value.
func (h *Handler) Recount(c *gin.Context) {
	name := c.Param("name")
	slot, err := h.store.RecountOccupancy(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "location not found"})
			return
		}
		log.Printf("Failed to recount occupancy of %s: %v", name, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to recount parking slot occupancy"})
		return
	}

	log.Printf("Guard %s recounted %s: %d/%d", c.GetString(mw.GuardIDKey), name, slot.CurrentOccupancy, slot.TotalCapacity)
	c.JSON(http.StatusOK, h.occupancy.Set(slot.Name, slot.CurrentOccupancy, slot.TotalCapacity))
}

// Refresh handles POST /api/locations/refresh.
func (h *Handler) Refresh(c *gin.Context) {
	if err := h.occupancy.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "refresh failed", "locations": h.occupancy.Snapshot()})
		return
	}
	c.JSON(http.StatusOK, h.occupancy.Snapshot())
}
