package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"latchkey/internal/keys"
	"latchkey/internal/models"
	"latchkey/internal/store"
	"latchkey/internal/token"
)

// MockLicenseStore is a mock implementation of store.LicenseStore
type MockLicenseStore struct {
	mock.Mock
}

func (m *MockLicenseStore) CreateLicense(ctx context.Context, license *models.License) error {
	args := m.Called(ctx, license)
	return args.Error(0)
}
func (m *MockLicenseStore) UpdateLicense(ctx context.Context, license *models.License) error {
	args := m.Called(ctx, license)
	return args.Error(0)
}
func (m *MockLicenseStore) GetLicenseByKey(ctx context.Context, key string, moduleTag string) (*models.License, error) {
	args := m.Called(ctx, key, moduleTag)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.License), args.Error(1)
}
func (m *MockLicenseStore) GetLicense(ctx context.Context, id string) (*models.License, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.License), args.Error(1)
}
func (m *MockLicenseStore) RevokeLicense(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
func (m *MockLicenseStore) DeleteLicense(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
func (m *MockLicenseStore) ListLicenses(ctx context.Context, moduleTag *string, pagination models.PaginationParams) ([]models.License, int, error) {
	args := m.Called(ctx, moduleTag, pagination)
	return args.Get(0).([]models.License), args.Int(1), args.Error(2)
}

// memActivationStore implements store.ActivationStore in memory with the
// same seat semantics as the Postgres store, for engine tests.
type memActivationStore struct {
	mu          sync.Mutex
	maxMachines map[uuid.UUID]int
	rows        map[uuid.UUID]map[string]*models.Activation
}

func newMemActivationStore() *memActivationStore {
	return &memActivationStore{
		maxMachines: make(map[uuid.UUID]int),
		rows:        make(map[uuid.UUID]map[string]*models.Activation),
	}
}

func (s *memActivationStore) addLicense(id uuid.UUID, maxMachines int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxMachines[id] = maxMachines
	s.rows[id] = make(map[string]*models.Activation)
}

func (s *memActivationStore) ClaimSeat(ctx context.Context, licenseID uuid.UUID, fingerprint string, hostname string, now time.Time) (*models.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	maxMachines, ok := s.maxMachines[licenseID]
	if !ok {
		return nil, fmt.Errorf("%w: license", store.ErrNotFound)
	}

	// Only a fingerprint currently holding a seat renews for free; a
	// deactivated one competes for a seat like a new device.
	if act, ok := s.rows[licenseID][fingerprint]; ok && act.Active {
		act.LastSeen = now
		if hostname != "" {
			act.Hostname = hostname
		}
		copied := *act
		return &copied, nil
	}

	inUse := 0
	for _, act := range s.rows[licenseID] {
		if act.Active {
			inUse++
		}
	}
	if inUse >= maxMachines {
		return nil, fmt.Errorf("%w: %d of %d seats in use", store.ErrSeatLimit, inUse, maxMachines)
	}

	if act, ok := s.rows[licenseID][fingerprint]; ok {
		act.Active = true
		act.LastSeen = now
		if hostname != "" {
			act.Hostname = hostname
		}
		copied := *act
		return &copied, nil
	}

	act := &models.Activation{
		ID:          uuid.New(),
		LicenseID:   licenseID,
		Fingerprint: fingerprint,
		Hostname:    hostname,
		Active:      true,
		ActivatedAt: now,
		LastSeen:    now,
	}
	s.rows[licenseID][fingerprint] = act
	copied := *act
	return &copied, nil
}

func (s *memActivationStore) GetActivation(ctx context.Context, licenseID uuid.UUID, fingerprint string) (*models.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if act, ok := s.rows[licenseID][fingerprint]; ok {
		copied := *act
		return &copied, nil
	}
	return nil, fmt.Errorf("%w: activation", store.ErrNotFound)
}

func (s *memActivationStore) Touch(ctx context.Context, licenseID uuid.UUID, fingerprint string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if act, ok := s.rows[licenseID][fingerprint]; ok && act.Active {
		act.LastSeen = now
		return nil
	}
	return fmt.Errorf("%w: activation", store.ErrNotFound)
}

func (s *memActivationStore) Deactivate(ctx context.Context, licenseID uuid.UUID, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if act, ok := s.rows[licenseID][fingerprint]; ok && act.Active {
		act.Active = false
		return nil
	}
	return fmt.Errorf("%w: activation", store.ErrNotFound)
}

func (s *memActivationStore) CountActiveSeats(ctx context.Context, licenseID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, act := range s.rows[licenseID] {
		if act.Active {
			count++
		}
	}
	return count, nil
}

func (s *memActivationStore) ListActivations(ctx context.Context, licenseID uuid.UUID, pagination models.PaginationParams) ([]models.Activation, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Activation
	for _, act := range s.rows[licenseID] {
		out = append(out, *act)
	}
	return out, len(out), nil
}

func newTestEngine(t *testing.T, licenses store.LicenseStore, activations store.ActivationStore) (*Engine, *keys.Keypair) {
	t.Helper()
	kp, err := keys.Generate()
	require.NoError(t, err)
	return NewEngine(licenses, activations, kp, 7*24*time.Hour), kp
}

func TestActivateDeniesUnknownLicense(t *testing.T) {
	mockLicenses := new(MockLicenseStore)
	mockLicenses.On("GetLicenseByKey", mock.Anything, "nope", "reporting").
		Return(nil, fmt.Errorf("%w: license", store.ErrNotFound))

	engine, _ := newTestEngine(t, mockLicenses, newMemActivationStore())

	result, err := engine.Activate(context.Background(), ActivateRequest{
		LicenseKey: "nope", ModuleTag: "reporting", Fingerprint: "fp-A",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, result.Status)
	assert.Equal(t, ReasonNotFound, result.Reason)
	assert.Empty(t, result.Token)
	assert.NotEmpty(t, result.PublicKeyBase64, "denials still advertise the public key")
}

func TestActivateDeniesRevokedLicense(t *testing.T) {
	lic := &models.License{ID: uuid.New(), Key: "LIC-1", ModuleTag: "reporting", MaxMachines: 2, Revoked: true}
	mockLicenses := new(MockLicenseStore)
	mockLicenses.On("GetLicenseByKey", mock.Anything, "LIC-1", "reporting").Return(lic, nil)

	engine, _ := newTestEngine(t, mockLicenses, newMemActivationStore())

	result, err := engine.Activate(context.Background(), ActivateRequest{
		LicenseKey: "LIC-1", ModuleTag: "reporting", Fingerprint: "fp-A",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, result.Status)
	assert.Equal(t, ReasonRevoked, result.Reason)
}

func TestActivateDeniesExpiredLicense(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	lic := &models.License{ID: uuid.New(), Key: "LIC-1", ModuleTag: "reporting", MaxMachines: 2, ExpiresAt: &past}
	mockLicenses := new(MockLicenseStore)
	mockLicenses.On("GetLicenseByKey", mock.Anything, "LIC-1", "reporting").Return(lic, nil)

	activations := newMemActivationStore()
	activations.addLicense(lic.ID, lic.MaxMachines)
	engine, _ := newTestEngine(t, mockLicenses, activations)

	// Even a previously activated fingerprint is denied once expired.
	_, err := activations.ClaimSeat(context.Background(), lic.ID, "fp-A", "", time.Now())
	require.NoError(t, err)

	result, err := engine.Activate(context.Background(), ActivateRequest{
		LicenseKey: "LIC-1", ModuleTag: "reporting", Fingerprint: "fp-A",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, result.Status)
	assert.Equal(t, ReasonExpired, result.Reason)
}

func TestActivateSeatLifecycle(t *testing.T) {
	lic := &models.License{ID: uuid.New(), Key: "L1", ModuleTag: "reporting", MaxMachines: 2}
	mockLicenses := new(MockLicenseStore)
	mockLicenses.On("GetLicenseByKey", mock.Anything, "L1", "reporting").Return(lic, nil)

	activations := newMemActivationStore()
	activations.addLicense(lic.ID, lic.MaxMachines)
	engine, kp := newTestEngine(t, mockLicenses, activations)
	ctx := context.Background()

	activate := func(fp string) *ActivationResult {
		result, err := engine.Activate(ctx, ActivateRequest{
			LicenseKey: "L1", ModuleTag: "reporting", Fingerprint: fp,
		})
		require.NoError(t, err)
		return result
	}

	// A and B fill the license.
	resA := activate("A")
	assert.Equal(t, StatusOK, resA.Status)
	assert.NotEmpty(t, resA.Token)
	assert.True(t, VerifyChallenge(kp.Public(), "L1", "A", resA.Signature))

	resB := activate("B")
	assert.Equal(t, StatusOK, resB.Status)

	// C is one seat too many.
	resC := activate("C")
	assert.Equal(t, StatusDenied, resC.Status)
	assert.Equal(t, ReasonLimitExceeded, resC.Reason)

	// A renews without consuming anything.
	resA2 := activate("A")
	assert.Equal(t, StatusOK, resA2.Status)
	seats, err := activations.CountActiveSeats(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, seats)

	// Revocation cuts off even known fingerprints.
	lic.Revoked = true
	resA3 := activate("A")
	assert.Equal(t, StatusDenied, resA3.Status)
	assert.Equal(t, ReasonRevoked, resA3.Reason)
}

func TestActivateDeniesReleasedSeatOnFullLicense(t *testing.T) {
	lic := &models.License{ID: uuid.New(), Key: "L1", ModuleTag: "reporting", MaxMachines: 2}
	mockLicenses := new(MockLicenseStore)
	mockLicenses.On("GetLicenseByKey", mock.Anything, "L1", "reporting").Return(lic, nil)

	activations := newMemActivationStore()
	activations.addLicense(lic.ID, lic.MaxMachines)
	engine, _ := newTestEngine(t, mockLicenses, activations)
	ctx := context.Background()

	activate := func(fp string) *ActivationResult {
		result, err := engine.Activate(ctx, ActivateRequest{
			LicenseKey: "L1", ModuleTag: "reporting", Fingerprint: fp,
		})
		require.NoError(t, err)
		return result
	}

	require.Equal(t, StatusOK, activate("A").Status)
	require.Equal(t, StatusOK, activate("B").Status)

	// A gives its seat up and C takes it.
	require.NoError(t, activations.Deactivate(ctx, lic.ID, "A"))
	require.Equal(t, StatusOK, activate("C").Status)

	// A coming back does not get a free renewal past the limit.
	resA := activate("A")
	assert.Equal(t, StatusDenied, resA.Status)
	assert.Equal(t, ReasonLimitExceeded, resA.Reason)

	seats, err := activations.CountActiveSeats(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, seats)

	// Once C releases, A activates again.
	require.NoError(t, activations.Deactivate(ctx, lic.ID, "C"))
	assert.Equal(t, StatusOK, activate("A").Status)
}

func TestActivateIssuesVerifiableToken(t *testing.T) {
	exp := time.Now().UTC().Add(90 * 24 * time.Hour)
	lic := &models.License{ID: uuid.New(), Key: "L1", ModuleTag: "reporting", MaxMachines: 3, MaxVersion: "2.0", ExpiresAt: &exp}
	mockLicenses := new(MockLicenseStore)
	mockLicenses.On("GetLicenseByKey", mock.Anything, "L1", "reporting").Return(lic, nil)

	activations := newMemActivationStore()
	activations.addLicense(lic.ID, lic.MaxMachines)
	engine, kp := newTestEngine(t, mockLicenses, activations)

	result, err := engine.Activate(context.Background(), ActivateRequest{
		LicenseKey: "L1", ModuleTag: "reporting", Fingerprint: "fp-A", Hostname: "build-01",
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, result.Status)

	payload, err := token.Verify(result.Token, kp.Public(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, "L1", payload.LicenseKey)
	assert.Equal(t, "fp-A", payload.Fingerprint)
	assert.Equal(t, 3, payload.MaxMachines)
	assert.Equal(t, "2.0", payload.MaxVersion)
	require.NotNil(t, result.ValidUntil)
	assert.True(t, result.ValidUntil.Equal(payload.ValidUntil))

	// Server-side re-check agrees.
	verify, err := engine.Verify(context.Background(), result.Token)
	require.NoError(t, err)
	assert.True(t, verify.Valid)
}

func TestVerifyFailsClosed(t *testing.T) {
	mockLicenses := new(MockLicenseStore)
	engine, _ := newTestEngine(t, mockLicenses, newMemActivationStore())

	result, err := engine.Verify(context.Background(), "garbage-token")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonInvalidToken, result.Reason)
}

func TestVerifyRejectsRevokedLicense(t *testing.T) {
	lic := &models.License{ID: uuid.New(), Key: "L1", ModuleTag: "reporting", MaxMachines: 2}
	mockLicenses := new(MockLicenseStore)
	mockLicenses.On("GetLicenseByKey", mock.Anything, "L1", "reporting").Return(lic, nil)

	activations := newMemActivationStore()
	activations.addLicense(lic.ID, lic.MaxMachines)
	engine, _ := newTestEngine(t, mockLicenses, activations)

	result, err := engine.Activate(context.Background(), ActivateRequest{
		LicenseKey: "L1", ModuleTag: "reporting", Fingerprint: "fp-A",
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, result.Status)

	// Token is cryptographically fine, but the license is gone.
	lic.Revoked = true
	verify, err := engine.Verify(context.Background(), result.Token)
	require.NoError(t, err)
	assert.False(t, verify.Valid)
	assert.Equal(t, ReasonRevoked, verify.Reason)
}

func TestVerifyReportsTokenExpiry(t *testing.T) {
	lic := &models.License{ID: uuid.New(), Key: "L1", ModuleTag: "reporting", MaxMachines: 2}
	mockLicenses := new(MockLicenseStore)
	mockLicenses.On("GetLicenseByKey", mock.Anything, "L1", "reporting").Return(lic, nil)

	activations := newMemActivationStore()
	activations.addLicense(lic.ID, lic.MaxMachines)
	engine, _ := newTestEngine(t, mockLicenses, activations)

	result, err := engine.Activate(context.Background(), ActivateRequest{
		LicenseKey: "L1", ModuleTag: "reporting", Fingerprint: "fp-A",
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, result.Status)

	// Move the engine clock past the token's validity window.
	engine.now = func() time.Time { return time.Now().UTC().Add(8 * 24 * time.Hour) }

	verify, err := engine.Verify(context.Background(), result.Token)
	require.NoError(t, err)
	assert.False(t, verify.Valid)
	assert.Equal(t, ReasonTokenExpired, verify.Reason)
}

func TestConcurrentActivationsNeverExceedSeats(t *testing.T) {
	const maxMachines = 3
	const attempts = 32

	lic := &models.License{ID: uuid.New(), Key: "L1", ModuleTag: "reporting", MaxMachines: maxMachines}
	mockLicenses := new(MockLicenseStore)
	mockLicenses.On("GetLicenseByKey", mock.Anything, "L1", "reporting").Return(lic, nil)

	activations := newMemActivationStore()
	activations.addLicense(lic.ID, maxMachines)
	engine, _ := newTestEngine(t, mockLicenses, activations)

	var mu sync.Mutex
	granted := 0

	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		fp := fmt.Sprintf("fp-%02d", i)
		g.Go(func() error {
			result, err := engine.Activate(context.Background(), ActivateRequest{
				LicenseKey: "L1", ModuleTag: "reporting", Fingerprint: fp,
			})
			if err != nil {
				return err
			}
			if result.Status == StatusOK {
				mu.Lock()
				granted++
				mu.Unlock()
			} else if result.Reason != ReasonLimitExceeded {
				return fmt.Errorf("unexpected denial reason %q", result.Reason)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, maxMachines, granted)
	seats, err := activations.CountActiveSeats(context.Background(), lic.ID)
	require.NoError(t, err)
	assert.Equal(t, maxMachines, seats)
}

func TestHeartbeatUnknownActivation(t *testing.T) {
	lic := &models.License{ID: uuid.New(), Key: "L1", ModuleTag: "reporting", MaxMachines: 2}
	mockLicenses := new(MockLicenseStore)
	mockLicenses.On("GetLicenseByKey", mock.Anything, "L1", "reporting").Return(lic, nil)

	activations := newMemActivationStore()
	activations.addLicense(lic.ID, lic.MaxMachines)
	engine, _ := newTestEngine(t, mockLicenses, activations)

	err := engine.Heartbeat(context.Background(), "L1", "reporting", "fp-unknown")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
