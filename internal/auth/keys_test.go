package auth

import (
	"bytes"
	"testing"
)

func TestDeriveKey(t *testing.T) {
	tests := []struct {
		name         string
		masterSecret []byte
		purpose      string
		wantErr      bool
	}{
		{
			name:         "valid derivation",
			masterSecret: []byte("this-is-a-secure-master-secret-for-testing"),
			purpose:      purposeSessionJWT,
		},
		{
			name:         "empty master secret",
			masterSecret: []byte{},
			purpose:      purposeSessionJWT,
			wantErr:      true,
		},
		{
			name:         "nil master secret",
			masterSecret: nil,
			purpose:      purposeSessionJWT,
			wantErr:      true,
		},
		{
			name:         "empty purpose string is allowed",
			masterSecret: []byte("test-secret"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := DeriveKey(tt.masterSecret, tt.purpose)
			if tt.wantErr {
				if err != ErrInvalidMasterSecret {
					t.Errorf("DeriveKey() error = %v, want ErrInvalidMasterSecret", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DeriveKey() unexpected error: %v", err)
			}
			if len(key) != DerivedKeyLength {
				t.Errorf("DeriveKey() key length = %d, want %d", len(key), DerivedKeyLength)
			}
		})
	}
}

func TestDeriveKeys_Independent(t *testing.T) {
	keys, err := DeriveKeys([]byte("shared-master-secret-for-all-keys"))
	if err != nil {
		t.Fatalf("DeriveKeys() failed: %v", err)
	}

	all := [][]byte{keys.SessionJWT, keys.CookieHash, keys.CookieBlock, keys.CSRF}
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			if bytes.Equal(all[i], all[j]) {
				t.Errorf("keys %d and %d are identical", i, j)
			}
		}
	}
}

func TestDeriveKeys_Deterministic(t *testing.T) {
	secret := []byte("test-master-secret")
	first, err := DeriveKeys(secret)
	if err != nil {
		t.Fatalf("first derivation failed: %v", err)
	}
	second, err := DeriveKeys(secret)
	if err != nil {
		t.Fatalf("second derivation failed: %v", err)
	}
	if !bytes.Equal(first.SessionJWT, second.SessionJWT) || !bytes.Equal(first.CookieBlock, second.CookieBlock) {
		t.Error("DeriveKeys() is not deterministic")
	}
}

func TestDifferentMasterSecretsProduceDifferentKeys(t *testing.T) {
	key1, err := DeriveKey([]byte("first-master-secret"), purposeSessionJWT)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	key2, err := DeriveKey([]byte("second-master-secret"), purposeSessionJWT)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if bytes.Equal(key1, key2) {
		t.Error("different master secrets produced identical keys")
	}
}
