package service

import (
	"crypto/rand"
	"math/big"
)

const keyCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateLicenseKey returns an opaque random license key. No structure is
// encoded in the key; it is only ever compared for equality.
func GenerateLicenseKey(prefix string, length int) (string, error) {
	if length <= 0 {
		length = 24
	}

	b := make([]byte, length)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(keyCharset))))
		if err != nil {
			return "", err
		}
		b[i] = keyCharset[num.Int64()]
	}

	if prefix != "" {
		return prefix + "-" + string(b), nil
	}
	return string(b), nil
}
