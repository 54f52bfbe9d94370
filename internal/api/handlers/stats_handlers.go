package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"latchkey/internal/store"
)

func GetDashboardStatsHandler(statsStore store.StatsStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		stats, err := statsStore.GetDashboardStats(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get dashboard stats"})
			return
		}

		c.JSON(http.StatusOK, stats)
	}
}
