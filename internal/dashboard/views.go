package dashboard

import (
	"net/http"
	"strings"

	"tankwatch/internal/models"

	"github.com/gin-gonic/gin"
)

func (h *Handler) health(c *gin.Context) {
	session := h.stores.Session.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"authenticated": session.IsAuthenticated,
	})
}

// tokenMiddleware enforces the static dashboard token when configured.
func (h *Handler) tokenMiddleware(c *gin.Context) {
	if h.token == "" {
		c.Next()
		return
	}
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] != h.token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "missing or invalid Authorization header",
		})
		return
	}
	c.Next()
}

func (h *Handler) listDevices(c *gin.Context) {
	st := h.stores.Devices.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"devices":  st.Devices,
		"selected": st.Selected,
		"error":    st.Error,
	})
}

func (h *Handler) selectDevice(c *gin.Context) {
	id := c.Param("id")
	for _, d := range h.stores.Devices.Snapshot().Devices {
		if d.ID == id {
			h.stores.Devices.Select(d)
			c.JSON(http.StatusOK, gin.H{"selected": d})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown device id"})
}

func (h *Handler) listReadings(c *gin.Context) {
	st := h.stores.Sensors.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"readings":    st.Readings,
		"last_update": st.LastUpdate,
		"error":       st.Error,
	})
}

func (h *Handler) latestReading(c *gin.Context) {
	st := h.stores.Sensors.Snapshot()
	if st.Latest == nil {
		// A device with no readings yet is a normal empty state.
		c.JSON(http.StatusOK, gin.H{"reading": nil, "last_update": st.LastUpdate})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reading": st.Latest, "last_update": st.LastUpdate})
}

func (h *Handler) listAlerts(c *gin.Context) {
	st := h.stores.Alerts.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"alerts":       st.Alerts,
		"unread_count": st.UnreadCount,
		"error":        st.Error,
	})
}

func (h *Handler) acknowledgeAlert(c *gin.Context) {
	if err := h.stores.Alerts.Acknowledge(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": h.stores.Alerts.UnreadCount()})
}

type actuatorRequest struct {
	On    bool `json:"on"`
	Speed int  `json:"speed"`
}

func (h *Handler) setActuator(c *gin.Context) {
	actuator := models.ActuatorType(c.Param("type"))
	if !actuator.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown actuator type"})
		return
	}

	var req actuatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	selected := h.stores.Devices.Selected()
	if selected == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no device selected"})
		return
	}

	if err := h.control.Set(c.Request.Context(), *selected, actuator, req.On, req.Speed); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"panel": h.control.Panel()})
}

func (h *Handler) emergencyStop(c *gin.Context) {
	h.control.EmergencyStop()
	c.JSON(http.StatusOK, gin.H{"panel": h.control.Panel()})
}
