package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DerivedKeyLength is the size in bytes of every key derived from JWT_SECRET.
const DerivedKeyLength = 32

const (
	purposeSessionJWT  = "appkit-session-jwt-v1"
	purposeCookieHash  = "appkit-cookie-hash-v1"
	purposeCookieBlock = "appkit-cookie-block-v1"
	purposeCSRF        = "appkit-csrf-v1"
)

var ErrInvalidMasterSecret = errors.New("master secret cannot be empty")

// DeriveKey derives a 32-byte key from masterSecret with HKDF-SHA256. The
// purpose string separates keys so one secret can back several signers.
func DeriveKey(masterSecret []byte, purpose string) ([]byte, error) {
	if len(masterSecret) == 0 {
		return nil, ErrInvalidMasterSecret
	}

	r := hkdf.New(sha256.New, masterSecret, nil, []byte(purpose))
	key := make([]byte, DerivedKeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Keys is the full set of keys the auth manager signs and encrypts with.
type Keys struct {
	SessionJWT  []byte
	CookieHash  []byte
	CookieBlock []byte
	CSRF        []byte
}

func DeriveKeys(masterSecret []byte) (Keys, error) {
	var keys Keys
	targets := []struct {
		purpose string
		dst     *[]byte
	}{
		{purposeSessionJWT, &keys.SessionJWT},
		{purposeCookieHash, &keys.CookieHash},
		{purposeCookieBlock, &keys.CookieBlock},
		{purposeCSRF, &keys.CSRF},
	}
	for _, target := range targets {
		k, err := DeriveKey(masterSecret, target.purpose)
		if err != nil {
			return Keys{}, fmt.Errorf("derive %s: %w", target.purpose, err)
		}
		*target.dst = k
	}
	return keys, nil
}
