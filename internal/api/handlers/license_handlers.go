package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"latchkey/internal/models"
	"latchkey/internal/service"
	"latchkey/internal/store"
)

type generateLicenseRequest struct {
	OwnerName   string     `json:"owner_name" binding:"required"`
	OwnerEmail  string     `json:"owner_email" binding:"required,email"`
	ModuleTag   string     `json:"module_tag" binding:"required"`
	MaxMachines int        `json:"max_machines" binding:"required,min=1"`
	MaxVersion  string     `json:"max_version"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Duration    string     `json:"duration"`
	Prefix      string     `json:"prefix"`
	Length      int        `json:"length"`
}

type updateLicenseRequest struct {
	OwnerName   string     `json:"owner_name"`
	OwnerEmail  string     `json:"owner_email"`
	MaxMachines int        `json:"max_machines"`
	MaxVersion  *string    `json:"max_version"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Duration    string     `json:"duration"`
}

type deactivateRequest struct {
	LicenseKey  string `json:"license_key" binding:"required"`
	ModuleTag   string `json:"module_tag" binding:"required"`
	Fingerprint string `json:"fingerprint" binding:"required"`
}

// GenerateLicenseHandler handles POST /admin/licenses
func GenerateLicenseHandler(licenseStore store.LicenseStore, logStore store.LogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req generateLicenseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if req.ExpiresAt != nil && req.Duration != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot specify both expires_at and duration"})
			return
		}

		var expiresAt *time.Time
		if req.ExpiresAt != nil {
			expiresAt = req.ExpiresAt
		} else if req.Duration != "" {
			exp, err := ParseExpirationDuration(req.Duration)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid duration format: %v", err)})
				return
			}
			expiresAt = &exp
		}

		key, err := service.GenerateLicenseKey(req.Prefix, req.Length)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate license key"})
			return
		}

		license := &models.License{
			ID:          uuid.New(),
			Key:         key,
			OwnerName:   req.OwnerName,
			OwnerEmail:  req.OwnerEmail,
			ModuleTag:   req.ModuleTag,
			MaxMachines: req.MaxMachines,
			MaxVersion:  req.MaxVersion,
			ExpiresAt:   expiresAt,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}

		if err := licenseStore.CreateLicense(c.Request.Context(), license); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				c.JSON(http.StatusConflict, gin.H{"error": "License key already exists"})
				return
			}
			slog.Error("Failed to create license", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save license"})
			return
		}

		slog.Info("License generated", "license_key", license.Key, "module", license.ModuleTag)

		details := map[string]interface{}(nil)
		dt, _ := json.Marshal(license)
		json.Unmarshal(dt, &details)

		logEntry := &models.AdminLog{
			Action:     "GENERATE_LICENSE",
			EntityType: "LICENSE",
			EntityID:   &license.ID,
			Actor:      actorFrom(c),
			Details:    details,
			CreatedAt:  time.Now(),
		}
		service.AsyncLogAdminAction(c.Request.Context(), logStore, logEntry)

		c.JSON(http.StatusCreated, license)
	}
}

// GetLicenseHandler handles GET /admin/licenses. With an X-License-Key
// header it returns the single matching license; without one it lists,
// optionally filtered by module_tag.
func GetLicenseHandler(licenseStore store.LicenseStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-License-Key")

		if key == "" {
			var moduleTag *string
			if tag := c.Query("module_tag"); tag != "" {
				moduleTag = &tag
			}

			pagination := ParsePaginationParams(c)

			licenses, totalCount, err := licenseStore.ListLicenses(c.Request.Context(), moduleTag, pagination)
			if err != nil {
				slog.Error("Failed to list licenses", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list licenses"})
				return
			}

			if licenses == nil {
				licenses = []models.License{}
			}

			c.JSON(http.StatusOK, paginate(licenses, totalCount, pagination))
			return
		}

		license, ok := lookupLicense(c, licenseStore, key)
		if !ok {
			return
		}

		c.JSON(http.StatusOK, license)
	}
}

// UpdateLicenseHandler handles PUT /admin/licenses. Policy fields only;
// revocation goes through the DELETE route and is never reversible here.
func UpdateLicenseHandler(licenseStore store.LicenseStore, logStore store.LogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := requireLicenseKey(c)
		if !ok {
			return
		}

		var req updateLicenseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		existing, ok := lookupLicense(c, licenseStore, key)
		if !ok {
			return
		}

		if req.OwnerName != "" {
			existing.OwnerName = req.OwnerName
		}
		if req.OwnerEmail != "" {
			existing.OwnerEmail = req.OwnerEmail
		}
		if req.MaxMachines > 0 {
			existing.MaxMachines = req.MaxMachines
		}
		if req.MaxVersion != nil {
			existing.MaxVersion = *req.MaxVersion
		}

		if req.ExpiresAt != nil {
			existing.ExpiresAt = req.ExpiresAt
		} else if req.Duration != "" {
			exp, err := ParseExpirationDuration(req.Duration)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid duration format: %v", err)})
				return
			}
			existing.ExpiresAt = &exp
		}

		existing.UpdatedAt = time.Now()

		if err := licenseStore.UpdateLicense(c.Request.Context(), existing); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update license"})
			return
		}

		details := map[string]interface{}(nil)
		dt, _ := json.Marshal(req)
		json.Unmarshal(dt, &details)

		logEntry := &models.AdminLog{
			Action:     "UPDATE_LICENSE",
			EntityType: "LICENSE",
			EntityID:   &existing.ID,
			Actor:      actorFrom(c),
			Details:    details,
			CreatedAt:  time.Now(),
		}
		service.AsyncLogAdminAction(c.Request.Context(), logStore, logEntry)

		c.JSON(http.StatusOK, existing)
	}
}

// RevokeLicenseHandler handles DELETE /admin/licenses
func RevokeLicenseHandler(licenseStore store.LicenseStore, logStore store.LogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := requireLicenseKey(c)
		if !ok {
			return
		}

		slog.Info("Revoking license", "key", key)

		if err := licenseStore.RevokeLicense(c.Request.Context(), key); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "License not found"})
				return
			}
			slog.Error("Failed to revoke license", "error", err, "key", key)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke license"})
			return
		}

		logEntry := &models.AdminLog{
			Action:     "REVOKE_LICENSE",
			EntityType: "LICENSE",
			Actor:      actorFrom(c),
			Details:    map[string]interface{}{"key": key},
			CreatedAt:  time.Now(),
		}
		service.AsyncLogAdminAction(c.Request.Context(), logStore, logEntry)

		c.JSON(http.StatusOK, gin.H{"message": "License revoked"})
	}
}

// DeleteLicenseHandler handles DELETE /admin/licenses/purge
func DeleteLicenseHandler(licenseStore store.LicenseStore, logStore store.LogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := requireLicenseKey(c)
		if !ok {
			return
		}

		slog.Info("Deleting license permanently", "key", key)

		if err := licenseStore.DeleteLicense(c.Request.Context(), key); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "License not found"})
				return
			}
			slog.Error("Failed to delete license", "error", err, "key", key)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete license"})
			return
		}

		logEntry := &models.AdminLog{
			Action:     "DELETE_LICENSE",
			EntityType: "LICENSE",
			Actor:      actorFrom(c),
			Details:    map[string]interface{}{"key": key},
			CreatedAt:  time.Now(),
		}
		service.AsyncLogAdminAction(c.Request.Context(), logStore, logEntry)

		c.JSON(http.StatusOK, gin.H{"message": "License deleted permanently"})
	}
}

// ListActivationsHandler handles GET /admin/licenses/activations
func ListActivationsHandler(licenseStore store.LicenseStore, activationStore store.ActivationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := requireLicenseKey(c)
		if !ok {
			return
		}

		license, ok := lookupLicense(c, licenseStore, key)
		if !ok {
			return
		}

		pagination := ParsePaginationParams(c)
		activations, totalCount, err := activationStore.ListActivations(c.Request.Context(), license.ID, pagination)
		if err != nil {
			slog.Error("Failed to list activations", "error", err, "key", key)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list activations"})
			return
		}

		if activations == nil {
			activations = []models.Activation{}
		}

		c.JSON(http.StatusOK, paginate(activations, totalCount, pagination))
	}
}

// DeactivateHandler handles POST /admin/activations/deactivate. Releasing
// a seat keeps the row so the same device can re-activate without counting
// as a new machine.
func DeactivateHandler(licenseStore store.LicenseStore, activationStore store.ActivationStore, logStore store.LogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req deactivateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		license, err := licenseStore.GetLicenseByKey(c.Request.Context(), req.LicenseKey, req.ModuleTag)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "License not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deactivate"})
			return
		}

		if err := activationStore.Deactivate(c.Request.Context(), license.ID, req.Fingerprint); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Activation not found"})
				return
			}
			slog.Error("Failed to deactivate", "error", err, "key", req.LicenseKey)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deactivate"})
			return
		}

		slog.Info("Activation released", "key", req.LicenseKey, "fingerprint", req.Fingerprint)

		logEntry := &models.AdminLog{
			Action:     "DEACTIVATE",
			EntityType: "ACTIVATION",
			EntityID:   &license.ID,
			Actor:      actorFrom(c),
			Details:    map[string]interface{}{"key": req.LicenseKey, "fingerprint": req.Fingerprint},
			CreatedAt:  time.Now(),
		}
		service.AsyncLogAdminAction(c.Request.Context(), logStore, logEntry)

		c.JSON(http.StatusOK, gin.H{"message": "Activation released"})
	}
}

// lookupLicense fetches a license by key and the module_tag query param,
// writing the error response itself when the lookup fails.
func lookupLicense(c *gin.Context, licenseStore store.LicenseStore, key string) (*models.License, bool) {
	moduleTag := c.Query("module_tag")
	if moduleTag == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "module_tag query parameter is required"})
		return nil, false
	}

	license, err := licenseStore.GetLicenseByKey(c.Request.Context(), key, moduleTag)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "License not found"})
			return nil, false
		}
		slog.Error("Failed to get license", "error", err, "key", key)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get license"})
		return nil, false
	}

	return license, true
}
