package models

import (
	"time"

	"github.com/google/uuid"
)

// License grants a named owner the right to run one product module on a
// bounded number of machines.
type License struct {
	ID          uuid.UUID  `json:"id"`
	Key         string     `json:"key"`
	OwnerName   string     `json:"owner_name"`
	OwnerEmail  string     `json:"owner_email"`
	ModuleTag   string     `json:"module_tag"`
	MaxMachines int        `json:"max_machines"`
	MaxVersion  string     `json:"max_version,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Revoked     bool       `json:"revoked"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Expired reports whether the license expiry, if set, lies before now.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// Activation records one device claiming a seat under a license. There is
// at most one row per (license, fingerprint); repeated activations from the
// same device only refresh LastSeen.
type Activation struct {
	ID          uuid.UUID `json:"id"`
	LicenseID   uuid.UUID `json:"license_id"`
	Fingerprint string    `json:"fingerprint"`
	Hostname    string    `json:"hostname,omitempty"`
	Active      bool      `json:"active"`
	ActivatedAt time.Time `json:"activated_at"`
	LastSeen    time.Time `json:"last_seen"`
}

type ActivationCheckLog struct {
	ID              uuid.UUID              `json:"id"`
	LicenseID       *uuid.UUID             `json:"license_id,omitempty"`
	LicenseKey      string                 `json:"license_key,omitempty"`
	ModuleTag       string                 `json:"module_tag,omitempty"`
	Fingerprint     string                 `json:"fingerprint,omitempty"`
	RequestPayload  map[string]interface{} `json:"request_payload"`
	ResponsePayload map[string]interface{} `json:"response_payload"`
	IPAddress       string                 `json:"ip_address"`
	UserAgent       string                 `json:"user_agent"`
	StatusCode      int                    `json:"status_code"`
	CreatedAt       time.Time              `json:"created_at"`
}

type AdminLog struct {
	ID         uuid.UUID              `json:"id"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   *uuid.UUID             `json:"entity_id,omitempty"`
	Actor      string                 `json:"actor,omitempty"`
	Details    map[string]interface{} `json:"details"`
	CreatedAt  time.Time              `json:"created_at"`
}

type DashboardStats struct {
	TotalLicenses          int        `json:"total_licenses"`
	RevokedLicenses        int        `json:"revoked_licenses"`
	ActiveActivations      int        `json:"active_activations"`
	TotalActivationChecks  int        `json:"total_activation_checks"`
	DeniedActivationChecks int        `json:"denied_activation_checks"`
	RecentAdminLogs        []AdminLog `json:"recent_admin_logs"`
}
