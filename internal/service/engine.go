package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"latchkey/internal/keys"
	"latchkey/internal/models"
	"latchkey/internal/store"
	"latchkey/internal/token"
)

type Status string

const (
	StatusOK     Status = "ok"
	StatusDenied Status = "denied"
)

type Reason string

const (
	ReasonNotFound      Reason = "not_found"
	ReasonRevoked       Reason = "revoked"
	ReasonExpired       Reason = "expired"
	ReasonLimitExceeded Reason = "limit_exceeded"
	ReasonInvalidToken  Reason = "invalid_token"
	ReasonTokenExpired  Reason = "token_expired"
)

type ActivateRequest struct {
	LicenseKey    string
	ModuleTag     string
	Fingerprint   string
	Hostname      string
	ClientVersion string
}

// ActivationResult is the engine's discriminated outcome. Domain denials
// land here with Status/Reason set; only infrastructure failures surface as
// Go errors.
type ActivationResult struct {
	Status          Status
	Reason          Reason
	Token           string
	Signature       string
	ValidUntil      *time.Time
	PublicKeyBase64 string
	Activation      *models.Activation
}

type VerifyResult struct {
	Valid      bool
	Reason     Reason
	ValidUntil *time.Time
}

// Engine decides whether a (license, device) pair may activate, tracks seat
// usage through the stores, and issues signed offline-grace tokens.
type Engine struct {
	licenses    store.LicenseStore
	activations store.ActivationStore
	keypair     *keys.Keypair
	tokenTTL    time.Duration

	now func() time.Time
}

func NewEngine(licenses store.LicenseStore, activations store.ActivationStore, keypair *keys.Keypair, tokenTTL time.Duration) *Engine {
	return &Engine{
		licenses:    licenses,
		activations: activations,
		keypair:     keypair,
		tokenTTL:    tokenTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) denied(reason Reason) *ActivationResult {
	return &ActivationResult{
		Status:          StatusDenied,
		Reason:          reason,
		PublicKeyBase64: e.keypair.PublicKeyBase64(),
	}
}

// Activate runs the decision sequence: license lookup, revocation, expiry,
// then the seat claim. A fingerprint already holding a seat always renews,
// even when the license is full; the seat count only gates new fingerprints.
func (e *Engine) Activate(ctx context.Context, req ActivateRequest) (*ActivationResult, error) {
	now := e.now()

	lic, err := e.licenses.GetLicenseByKey(ctx, req.LicenseKey, req.ModuleTag)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e.denied(ReasonNotFound), nil
		}
		return nil, fmt.Errorf("license lookup failed: %w", err)
	}

	if lic.Revoked {
		return e.denied(ReasonRevoked), nil
	}
	if lic.Expired(now) {
		return e.denied(ReasonExpired), nil
	}

	act, err := e.activations.ClaimSeat(ctx, lic.ID, req.Fingerprint, req.Hostname, now)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSeatLimit):
			return e.denied(ReasonLimitExceeded), nil
		case errors.Is(err, store.ErrNotFound):
			// License deleted between lookup and claim.
			return e.denied(ReasonNotFound), nil
		default:
			return nil, fmt.Errorf("seat claim failed: %w", err)
		}
	}

	validUntil := now.Add(e.tokenTTL)
	payload := token.Payload{
		LicenseKey:       lic.Key,
		ModuleTag:        lic.ModuleTag,
		Fingerprint:      req.Fingerprint,
		MaxMachines:      lic.MaxMachines,
		MaxVersion:       lic.MaxVersion,
		LicenseExpiresAt: lic.ExpiresAt,
		IssuedAt:         now,
		ValidUntil:       validUntil,
	}

	canonical, err := token.CanonicalBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize token payload: %w", err)
	}
	tokenString, err := token.Encode(payload, e.keypair.Sign(canonical))
	if err != nil {
		return nil, fmt.Errorf("failed to encode token: %w", err)
	}

	slog.Info("Activation accepted",
		"key", lic.Key,
		"module", lic.ModuleTag,
		"fingerprint", req.Fingerprint,
		"valid_until", validUntil,
	)

	return &ActivationResult{
		Status:          StatusOK,
		Token:           tokenString,
		Signature:       SignChallenge(e.keypair, lic.Key, req.Fingerprint),
		ValidUntil:      &validUntil,
		PublicKeyBase64: e.keypair.PublicKeyBase64(),
		Activation:      act,
	}, nil
}

// Verify re-checks an issued token: signature and embedded expiry first,
// then the license's current revocation and expiry state. Read-only.
func (e *Engine) Verify(ctx context.Context, tokenString string) (*VerifyResult, error) {
	now := e.now()

	payload, err := token.Verify(tokenString, e.keypair.Public(), now)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrTokenExpired):
			validUntil := payload.ValidUntil
			return &VerifyResult{Valid: false, Reason: ReasonTokenExpired, ValidUntil: &validUntil}, nil
		case errors.Is(err, token.ErrInvalidToken):
			return &VerifyResult{Valid: false, Reason: ReasonInvalidToken}, nil
		default:
			return nil, fmt.Errorf("token verification failed: %w", err)
		}
	}

	lic, err := e.licenses.GetLicenseByKey(ctx, payload.LicenseKey, payload.ModuleTag)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &VerifyResult{Valid: false, Reason: ReasonNotFound}, nil
		}
		return nil, fmt.Errorf("license lookup failed: %w", err)
	}

	if lic.Revoked {
		return &VerifyResult{Valid: false, Reason: ReasonRevoked}, nil
	}
	if lic.Expired(now) {
		return &VerifyResult{Valid: false, Reason: ReasonExpired}, nil
	}

	validUntil := payload.ValidUntil
	return &VerifyResult{Valid: true, ValidUntil: &validUntil}, nil
}

// Heartbeat refreshes liveness for an existing activation. It never claims
// a seat; unknown or inactive devices get store.ErrNotFound.
func (e *Engine) Heartbeat(ctx context.Context, licenseKey, moduleTag, fingerprint string) error {
	lic, err := e.licenses.GetLicenseByKey(ctx, licenseKey, moduleTag)
	if err != nil {
		return err
	}
	return e.activations.Touch(ctx, lic.ID, fingerprint, e.now())
}

// PublicKeyBase64 exposes the verification key for clients.
func (e *Engine) PublicKeyBase64() string {
	return e.keypair.PublicKeyBase64()
}
