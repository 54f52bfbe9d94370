package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"latchkey/internal/metrics"
	"latchkey/internal/models"
	"latchkey/internal/service"
	"latchkey/internal/store"
)

type activateRequest struct {
	LicenseKey    string `json:"license_key" binding:"required"`
	ModuleTag     string `json:"module_tag" binding:"required"`
	Fingerprint   string `json:"fingerprint" binding:"required"`
	Hostname      string `json:"hostname"`
	ClientVersion string `json:"client_version"`
}

type verifyRequest struct {
	Token string `json:"token" binding:"required"`
}

type heartbeatRequest struct {
	LicenseKey  string `json:"license_key" binding:"required"`
	ModuleTag   string `json:"module_tag" binding:"required"`
	Fingerprint string `json:"fingerprint" binding:"required"`
}

// ActivateHandler handles POST /api/v1/activate
func ActivateHandler(engine *service.Engine, logStore store.LogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req activateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		logEntry := &models.ActivationCheckLog{
			LicenseKey:  req.LicenseKey,
			ModuleTag:   req.ModuleTag,
			Fingerprint: req.Fingerprint,
			RequestPayload: map[string]interface{}{
				"hostname":       req.Hostname,
				"client_version": req.ClientVersion,
			},
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			CreatedAt: time.Now(),
		}

		result, err := engine.Activate(c.Request.Context(), service.ActivateRequest{
			LicenseKey:    req.LicenseKey,
			ModuleTag:     req.ModuleTag,
			Fingerprint:   req.Fingerprint,
			Hostname:      req.Hostname,
			ClientVersion: req.ClientVersion,
		})
		if err != nil {
			logEntry.StatusCode = http.StatusInternalServerError
			logEntry.ResponsePayload = map[string]interface{}{"error": "Activation failed"}
			service.AsyncLogActivationCheck(c.Request.Context(), logStore, logEntry, service.StatusDenied, "")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Activation failed"})
			return
		}

		metrics.ActivationsTotal.WithLabelValues(string(result.Status), string(result.Reason)).Inc()

		response := gin.H{
			"status":         result.Status,
			"public_key_b64": result.PublicKeyBase64,
		}
		if result.Status == service.StatusOK {
			response["token"] = result.Token
			response["signature"] = result.Signature
			response["valid_until"] = result.ValidUntil
			if result.Activation != nil {
				response["activation"] = result.Activation
				logEntry.LicenseID = &result.Activation.LicenseID
			}
		} else {
			response["reason"] = result.Reason
		}

		logEntry.StatusCode = http.StatusOK
		logEntry.ResponsePayload = map[string]interface{}{
			"status": string(result.Status),
			"reason": string(result.Reason),
		}
		service.AsyncLogActivationCheck(c.Request.Context(), logStore, logEntry, result.Status, result.Reason)

		c.JSON(http.StatusOK, response)
	}
}

// VerifyHandler handles POST /api/v1/verify
func VerifyHandler(engine *service.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req verifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := engine.Verify(c.Request.Context(), req.Token)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Verification failed"})
			return
		}

		validLabel := "false"
		if result.Valid {
			validLabel = "true"
		}
		metrics.VerificationsTotal.WithLabelValues(validLabel, string(result.Reason)).Inc()

		response := gin.H{"valid": result.Valid}
		if result.Reason != "" {
			response["reason"] = result.Reason
		}
		if result.ValidUntil != nil {
			response["valid_until"] = result.ValidUntil
		}

		c.JSON(http.StatusOK, response)
	}
}

// HeartbeatHandler handles POST /api/v1/heartbeat
func HeartbeatHandler(engine *service.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req heartbeatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		err := engine.Heartbeat(c.Request.Context(), req.LicenseKey, req.ModuleTag, req.Fingerprint)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Activation not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Heartbeat failed"})
			return
		}

		metrics.HeartbeatsTotal.Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// PublicKeyHandler handles GET /api/v1/public-key
func PublicKeyHandler(engine *service.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"public_key_b64": engine.PublicKeyBase64()})
	}
}
