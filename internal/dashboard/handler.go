// Package dashboard exposes the caches over a local HTTP surface: health,
// current cache snapshots, alert acknowledgement, actuator commands, and a
// websocket pushing periodic snapshots.
package dashboard

import (
	"tankwatch/internal/control"
	"tankwatch/internal/logger"
	"tankwatch/internal/store"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires the HTTP layer to the caches and the actuator controller.
type Handler struct {
	stores  *store.Store
	control *control.Controller
	token   string // static bearer token; empty disables the check
	log     *logger.Logger
}

// NewHandler constructs the dashboard handler. token guards the API group
// when non-empty.
func NewHandler(stores *store.Store, ctrl *control.Controller, token string, log *logger.Logger) *Handler {
	return &Handler{stores: stores, control: ctrl, token: token, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", h.health)

	api := router.Group("/api/v1", h.tokenMiddleware)
	{
		h.registerDeviceRoutes(api)
		h.registerReadingRoutes(api)
		h.registerAlertRoutes(api)
		h.registerActuatorRoutes(api)
	}

	// Snapshot push over WebSocket, same port.
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerDeviceRoutes(api *gin.RouterGroup) {
	devices := api.Group("/devices")
	{
		devices.GET("/", h.listDevices)
		devices.POST("/:id/select", h.selectDevice)
	}
}

func (h *Handler) registerReadingRoutes(api *gin.RouterGroup) {
	readings := api.Group("/readings")
	{
		readings.GET("/", h.listReadings)
		readings.GET("/latest", h.latestReading)
	}
}

func (h *Handler) registerAlertRoutes(api *gin.RouterGroup) {
	alerts := api.Group("/alerts")
	{
		alerts.GET("/", h.listAlerts)
		alerts.POST("/:id/ack", h.acknowledgeAlert)
	}
}

func (h *Handler) registerActuatorRoutes(api *gin.RouterGroup) {
	actuators := api.Group("/actuators")
	{
		// Body example: {"on":true} or {"speed":120}
		actuators.POST("/:type", h.setActuator)
		actuators.POST("/emergency-stop", h.emergencyStop)
	}
}
