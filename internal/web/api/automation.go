package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"homehub/internal/models"
	"homehub/internal/web/middleware"
	webModels "homehub/internal/web/models"
)

// AutomationStore is the automation repository as seen by the API.
type AutomationStore interface {
	ListByHome(ctx context.Context, homeID string) ([]models.Automation, error)
	InsertAutomation(ctx context.Context, a *models.Automation) error
}

func RegisterAutomationRoutes(r *gin.Engine, mw *middleware.MiddlewareManager, store AutomationStore, logger *logrus.Entry) {
	automations := r.Group("/automations")
	automations.Use(mw.RequireAuth())
	{
		automations.GET("", func(c *gin.Context) {
			homeID := c.Query("homeId")
			if homeID == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "homeId required"})
				return
			}
			if !middleware.Principal(c).CanAccessHome(homeID) {
				c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
				return
			}

			list, err := store.ListByHome(c.Request.Context(), homeID)
			if err != nil {
				logger.WithError(err).WithField("home_id", homeID).Error("failed to list automations")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch automations"})
				return
			}
			c.JSON(http.StatusOK, list)
		})

		automations.POST("", func(c *gin.Context) {
			var req webModels.AddAutomationRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
				return
			}
			if err := req.Validate(); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
				return
			}
			if !middleware.Principal(c).CanAccessHome(req.HomeID) {
				c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
				return
			}

			a := req.ToAutomation()
			if err := store.InsertAutomation(c.Request.Context(), &a); err != nil {
				logger.WithError(err).WithField("home_id", req.HomeID).Error("failed to create automation")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create automation"})
				return
			}
			logger.WithFields(logrus.Fields{"automation_id": a.ID, "home_id": a.HomeID}).Info("automation created")
			c.JSON(http.StatusCreated, a)
		})
	}
}
