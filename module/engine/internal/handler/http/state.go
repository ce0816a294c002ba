package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
)

type stateReader interface {
	ListByDevice(ctx context.Context, deviceID string) (map[string]*domain.ContainmentState, error)
}

type eventReader interface {
	RecentByDevice(ctx context.Context, deviceID string, limit int) ([]domain.GeofenceEvent, error)
}

// StateHandler exposes read-only operator endpoints for inspecting a
// device's containment states and recent transitions. This is not the
// product API, which lives in the external CRUD service.
type StateHandler struct {
	states stateReader
	events eventReader
}

func NewStateHandler(states stateReader, events eventReader) *StateHandler {
	return &StateHandler{states: states, events: events}
}

func (h *StateHandler) Register(r *gin.RouterGroup) {
	r.GET("/devices/:device_id/states", h.deviceStates)
	r.GET("/devices/:device_id/events", h.deviceEvents)
}

func (h *StateHandler) deviceStates(c *gin.Context) {
	deviceID := c.Param("device_id")

	states, err := h.states.ListByDevice(c.Request.Context(), deviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"device_id": deviceID,
		"states":    states,
	})
}

func (h *StateHandler) deviceEvents(c *gin.Context) {
	deviceID := c.Param("device_id")

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	events, err := h.events.RecentByDevice(c.Request.Context(), deviceID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if events == nil {
		events = []domain.GeofenceEvent{}
	}
	c.JSON(http.StatusOK, gin.H{
		"device_id": deviceID,
		"events":    events,
	})
}
