package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	privateKeyFile = "ed25519_private.key"
	publicKeyFile  = "ed25519_public.key"
)

// ErrCorruptKeyMaterial marks key files that exist but cannot be trusted.
// The store never regenerates over them: a fresh keypair would silently
// orphan every token issued under the old one, so startup fails instead.
var ErrCorruptKeyMaterial = errors.New("corrupt key material")

// Keypair is the process-wide Ed25519 signing identity, persisted under a
// configured directory and loaded once at startup.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// Load returns the keypair stored in dir, creating a new one on first run.
// The private key is staged in a temp file and published with an atomic
// link, so two racing first boots cannot interleave. The loser of the link
// never sees a partially written file: it reads the winner's complete
// private key and derives the public half from it.
func Load(dir string) (*Keypair, error) {
	privPath := filepath.Join(dir, privateKeyFile)
	pubPath := filepath.Join(dir, publicKeyFile)

	kp, err := loadFromFiles(privPath, pubPath)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create keys directory: %w", err)
	}

	kp, err = Generate()
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(dir, ".staged-*.key")
	if err != nil {
		return nil, fmt.Errorf("failed to stage private key: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(base64.StdEncoding.EncodeToString(kp.priv)); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}

	if err := os.Link(tmpPath, privPath); err != nil {
		if os.IsExist(err) {
			// Lost the creation race; the other process owns the identity.
			return loadFromPrivate(privPath)
		}
		return nil, fmt.Errorf("failed to create private key file: %w", err)
	}

	if err := os.WriteFile(pubPath, []byte(base64.StdEncoding.EncodeToString(kp.pub)), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}

	return kp, nil
}

// loadFromPrivate rebuilds the keypair from the private key alone. Used by
// the boot that loses the creation race, when the winner may not have
// written the public key file yet.
func loadFromPrivate(privPath string) (*Keypair, error) {
	privData, err := os.ReadFile(privPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	privBytes, err := base64.StdEncoding.DecodeString(string(privData))
	if err != nil {
		return nil, fmt.Errorf("%w: private key is not valid base64: %v", ErrCorruptKeyMaterial, err)
	}
	if len(privBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key size %d, expected %d",
			ErrCorruptKeyMaterial, len(privBytes), ed25519.PrivateKeySize)
	}
	priv := ed25519.PrivateKey(privBytes)
	return &Keypair{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

func loadFromFiles(privPath, pubPath string) (*Keypair, error) {
	privData, privErr := os.ReadFile(privPath)
	pubData, pubErr := os.ReadFile(pubPath)

	if os.IsNotExist(privErr) && os.IsNotExist(pubErr) {
		return nil, os.ErrNotExist
	}
	if privErr != nil || pubErr != nil {
		// One file present without the other is a half-written identity.
		if os.IsNotExist(privErr) || os.IsNotExist(pubErr) {
			return nil, fmt.Errorf("%w: key files are incomplete (private: %v, public: %v)",
				ErrCorruptKeyMaterial, privErr, pubErr)
		}
		if privErr != nil {
			return nil, fmt.Errorf("failed to read private key: %w", privErr)
		}
		return nil, fmt.Errorf("failed to read public key: %w", pubErr)
	}

	privBytes, err := base64.StdEncoding.DecodeString(string(privData))
	if err != nil {
		return nil, fmt.Errorf("%w: private key is not valid base64: %v", ErrCorruptKeyMaterial, err)
	}
	if len(privBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key size %d, expected %d",
			ErrCorruptKeyMaterial, len(privBytes), ed25519.PrivateKeySize)
	}

	pubBytes, err := base64.StdEncoding.DecodeString(string(pubData))
	if err != nil {
		return nil, fmt.Errorf("%w: public key is not valid base64: %v", ErrCorruptKeyMaterial, err)
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key size %d, expected %d",
			ErrCorruptKeyMaterial, len(pubBytes), ed25519.PublicKeySize)
	}

	priv := ed25519.PrivateKey(privBytes)
	pub := ed25519.PublicKey(pubBytes)
	if !pub.Equal(priv.Public()) {
		return nil, fmt.Errorf("%w: public key does not match private key", ErrCorruptKeyMaterial)
	}

	return &Keypair{priv: priv, pub: pub}, nil
}

// Generate creates an ephemeral keypair, not backed by any file. Intended
// for tests and for first-run creation inside Load.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return &Keypair{priv: priv, pub: pub}, nil
}

// Sign returns the base64 Ed25519 signature over payload.
func (k *Keypair) Sign(payload []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(k.priv, payload))
}

func (k *Keypair) Public() ed25519.PublicKey {
	return k.pub
}

func (k *Keypair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(k.pub)
}
