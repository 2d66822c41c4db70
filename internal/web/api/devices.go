package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"homehub/internal/db"
	"homehub/internal/models"
	"homehub/internal/mqtt"
	"homehub/internal/services"
	"homehub/internal/utils"
	"homehub/internal/web/middleware"
	webModels "homehub/internal/web/models"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = utils.StreamMaxLen
)

type CommandSender interface {
	SendCommand(ctx context.Context, homeID, deviceID string, command models.Value) error
}

type StateReader interface {
	GetState(ctx context.Context, deviceID string) models.State
}

type DeviceDirectory interface {
	DeviceHomeID(ctx context.Context, deviceID string) (string, error)
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
}

type HistoryReader interface {
	Recent(ctx context.Context, deviceID string, n int64) ([]models.StateHistoryEntry, error)
}

type DeviceDependencies struct {
	Commands  CommandSender
	States    StateReader
	Directory DeviceDirectory
	History   HistoryReader // optional
	Logger    *logrus.Entry
}

func RegisterDeviceRoutes(r *gin.Engine, mw *middleware.MiddlewareManager, deps DeviceDependencies) {
	devices := r.Group("/devices")
	devices.Use(mw.RequireAuth())
	{
		devices.GET("/:id", func(c *gin.Context) { getDevice(c, deps) })
		devices.POST("/:id/command", func(c *gin.Context) { sendCommand(c, deps) })
		devices.GET("/:id/state", func(c *gin.Context) { getState(c, deps) })
		devices.GET("/:id/history", func(c *gin.Context) { getHistory(c, deps) })
	}
}

func sendCommand(c *gin.Context, deps DeviceDependencies) {
	deviceID := c.Param("id")
	var req webModels.SendCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.Command.IsNull() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command required"})
		return
	}
	if !middleware.Principal(c).CanAccessHome(req.HomeID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	err := deps.Commands.SendCommand(c.Request.Context(), req.HomeID, deviceID, req.Command)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
	case errors.Is(err, services.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
	case errors.Is(err, mqtt.ErrNotConnected):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Device transport unavailable"})
	default:
		deps.Logger.WithError(err).WithField("device_id", deviceID).Error("failed to send command")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send command"})
	}
}

// authorizeDevice checks that the caller may see homeId and that the device
// belongs to it. It writes the error response itself.
func authorizeDevice(c *gin.Context, deps DeviceDependencies) (string, bool) {
	deviceID := c.Param("id")
	homeID := c.Query("homeId")
	if homeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "homeId required"})
		return "", false
	}
	if !middleware.Principal(c).CanAccessHome(homeID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return "", false
	}

	owner, err := deps.Directory.DeviceHomeID(c.Request.Context(), deviceID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && owner != homeID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return "", false
	}
	if err != nil {
		deps.Logger.WithError(err).WithField("device_id", deviceID).Error("failed to resolve device")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch device"})
		return "", false
	}
	return deviceID, true
}

func getDevice(c *gin.Context, deps DeviceDependencies) {
	deviceID, ok := authorizeDevice(c, deps)
	if !ok {
		return
	}
	device, err := deps.Directory.GetDevice(c.Request.Context(), deviceID)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}
	if err != nil {
		deps.Logger.WithError(err).WithField("device_id", deviceID).Error("failed to fetch device")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch device"})
		return
	}
	c.JSON(http.StatusOK, device)
}

func getState(c *gin.Context, deps DeviceDependencies) {
	deviceID, ok := authorizeDevice(c, deps)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"device_id": deviceID,
		"state":     deps.States.GetState(c.Request.Context(), deviceID),
	})
}

func getHistory(c *gin.Context, deps DeviceDependencies) {
	if deps.History == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "History not available"})
		return
	}
	limit := int64(defaultHistoryLimit)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, int64(maxHistoryLimit))
	}

	deviceID, ok := authorizeDevice(c, deps)
	if !ok {
		return
	}
	entries, err := deps.History.Recent(c.Request.Context(), deviceID, limit)
	if err != nil {
		deps.Logger.WithError(err).WithField("device_id", deviceID).Error("failed to read history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history"})
		return
	}

	out := make([]webModels.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, webModels.HistoryEntry{State: e.State, RecordedAt: utils.ISOTimestamp(e.RecordedAt)})
	}
	c.JSON(http.StatusOK, gin.H{"device_id": deviceID, "history": out})
}
