package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"time"

	"latchkey/internal/token"
)

// Offline verification of an activation token: exactly what a licensed
// client does during its grace window, no server round trip.
func main() {
	var publicKeyB64, tokenString string

	flag.StringVar(&publicKeyB64, "pubkey", "", "Base64 encoded public key (from /api/v1/public-key)")
	flag.StringVar(&tokenString, "token", "", "Activation token (from /api/v1/activate)")
	flag.Parse()

	if publicKeyB64 == "" || tokenString == "" {
		fmt.Println("Usage: verifytoken -pubkey <...> -token <...>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	pubKeyBytes, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		fmt.Printf("Error decoding public key: %v\n", err)
		os.Exit(1)
	}
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		fmt.Printf("Invalid public key size: %d\n", len(pubKeyBytes))
		os.Exit(1)
	}

	payload, err := token.Verify(tokenString, ed25519.PublicKey(pubKeyBytes), time.Now().UTC())
	if err != nil {
		fmt.Printf("Token validation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Token is VALID and AUTHENTIC.")
	fmt.Println("\nLicense Details:")
	fmt.Printf("- Key:          %s\n", payload.LicenseKey)
	fmt.Printf("- Module:       %s\n", payload.ModuleTag)
	fmt.Printf("- Fingerprint:  %s\n", payload.Fingerprint)
	fmt.Printf("- Max machines: %d\n", payload.MaxMachines)
	if payload.MaxVersion != "" {
		fmt.Printf("- Max version:  %s\n", payload.MaxVersion)
	}
	if payload.LicenseExpiresAt != nil {
		fmt.Printf("- License expires: %s\n", payload.LicenseExpiresAt.Format(time.RFC3339))
	}
	fmt.Printf("- Issued at:    %s\n", payload.IssuedAt.Format(time.RFC3339))
	fmt.Printf("- Valid until:  %s\n", payload.ValidUntil.Format(time.RFC3339))
}
