package main

import (
	"flag"
	"fmt"
	"log"

	"latchkey/internal/keys"
)

// Creates the on-disk signing keypair ahead of first boot, so deployments
// can provision and back up the identity before the server ever runs.
func main() {
	var dir string
	flag.StringVar(&dir, "dir", "data/keys", "Directory for the Ed25519 key files")
	flag.Parse()

	kp, err := keys.Load(dir)
	if err != nil {
		log.Fatalf("Failed to load or create keypair: %v", err)
	}

	fmt.Printf("Keypair ready in %s\n", dir)
	fmt.Printf("Public key (base64): %s\n", kp.PublicKeyBase64())
}
