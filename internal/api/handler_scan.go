package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"parkpeek-guard/internal/scanner"
	"parkpeek-guard/internal/workflow"
)

// DeviceHeader identifies the camera view a scan comes from.
const DeviceHeader = "X-Device-ID"

type scanRequest struct {
	Payload string `json:"payload"`
}

func scanKey(c *gin.Context) (scanner.Key, bool) {
	direction, err := workflow.ParseDirection(c.Param("direction"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return scanner.Key{}, false
	}
	device := c.GetHeader(DeviceHeader)
	if device == "" {
		device = c.ClientIP()
	}
	return scanner.Key{Device: device, Location: c.Param("location"), Direction: direction}, true
}

// Scan handles POST /api/scan/:location/:direction with one decoded QR payload.
func (h *Handler) Scan(c *gin.Context) {
	key, ok := scanKey(c)
	if !ok {
		return
	}
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	res, err := h.scanner.Scan(c.Request.Context(), key, req.Payload)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if res.Ignored {
		c.JSON(http.StatusAccepted, gin.H{"ignored": true})
		return
	}
	if res.Err != nil {
		var wfErr *workflow.Error
		if !errors.As(res.Err, &wfErr) {
			wfErr = &workflow.Error{Kind: workflow.TransportError, Message: "Something went wrong"}
		}
		c.JSON(statusForKind(wfErr.Kind), gin.H{"error": wfErr.Message, "kind": wfErr.Kind})
		return
	}
	c.JSON(http.StatusOK, res.Outcome)
}

// Foreground handles POST /api/scan/:location/:direction/foreground.
func (h *Handler) Foreground(c *gin.Context) {
	key, ok := scanKey(c)
	if !ok {
		return
	}
	if err := h.scanner.Foreground(key); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func statusForKind(kind workflow.Kind) int {
	switch kind {
	case workflow.MalformedCredential, workflow.InvalidCredential:
		return http.StatusUnprocessableEntity
	case workflow.IdentityNotFound:
		return http.StatusNotFound
	case workflow.LocationFull, workflow.AlreadyParked, workflow.NotCurrentlyParked, workflow.InconsistentState:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
