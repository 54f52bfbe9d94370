package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"latchkey/internal/models"
	"latchkey/internal/store"
)

func GetActivationCheckLogsHandler(logStore store.LogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		licenseKey := c.Query("license_key")
		if licenseKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "license_key query parameter is required"})
			return
		}

		var statusCode *int
		if statusCodeStr := c.Query("status_code"); statusCodeStr != "" {
			code, err := strconv.Atoi(statusCodeStr)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status_code parameter"})
				return
			}
			statusCode = &code
		}

		pagination := ParsePaginationParams(c)

		logs, totalCount, err := logStore.GetActivationCheckLogsByLicenseKey(ctx, licenseKey, statusCode, pagination)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch activation check logs"})
			return
		}

		if logs == nil {
			logs = []models.ActivationCheckLog{}
		}

		c.JSON(http.StatusOK, paginate(logs, totalCount, pagination))
	}
}

func GetAdminLogsHandler(logStore store.LogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		var actor *string
		if a := c.Query("actor"); a != "" {
			actor = &a
		}

		pagination := ParsePaginationParams(c)

		logs, totalCount, err := logStore.ListAdminLogs(ctx, actor, pagination)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch admin logs"})
			return
		}

		if logs == nil {
			logs = []models.AdminLog{}
		}

		c.JSON(http.StatusOK, paginate(logs, totalCount, pagination))
	}
}
