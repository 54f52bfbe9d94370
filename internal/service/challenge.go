package service

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"latchkey/internal/keys"
)

// SignChallenge produces a bare signature over the fixed activation
// challenge, for clients that only need lightweight proof without decoding
// the full token envelope.
func SignChallenge(kp *keys.Keypair, licenseKey, fingerprint string) string {
	return kp.Sign(challengeBytes(licenseKey, fingerprint))
}

// VerifyChallenge checks a challenge signature against a public key.
func VerifyChallenge(pub ed25519.PublicKey, licenseKey, fingerprint, signatureBase64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureBase64)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, challengeBytes(licenseKey, fingerprint), sig)
}

func challengeBytes(licenseKey, fingerprint string) []byte {
	return []byte(fmt.Sprintf("%s|%s|OK", licenseKey, fingerprint))
}
