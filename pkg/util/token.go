package util

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
)

// HexToken returns n random bytes hex encoded.
func HexToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// URLToken returns n random bytes as unpadded URL-safe base64, suitable
// for bearer secrets carried in headers or JSON.
func URLToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
