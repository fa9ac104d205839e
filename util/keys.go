package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const KeyBits = 2048

type RsaKeyPair struct {
	Private string
	Public  string
}

// GeneratePemKeypair returns a PKCS#1 private key and a PKIX public key, both PEM encoded.
func GeneratePemKeypair() (*RsaKeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating rsa key: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encoding public key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	})

	return &RsaKeyPair{Private: string(keyPEM), Public: string(pubPEM)}, nil
}

// LoadOrCreateKeyPair reads the instance key pair, generating and persisting it
// on first run. Finding only one of the two files is an error: regenerating
// would silently change the identity remote instances have cached.
func LoadOrCreateKeyPair(privPath, pubPath string) (*RsaKeyPair, bool, error) {
	privBytes, privErr := os.ReadFile(privPath)
	pubBytes, pubErr := os.ReadFile(pubPath)

	switch {
	case privErr == nil && pubErr == nil:
		return &RsaKeyPair{Private: string(privBytes), Public: string(pubBytes)}, false, nil
	case errors.Is(privErr, os.ErrNotExist) && errors.Is(pubErr, os.ErrNotExist):
	case privErr != nil && !errors.Is(privErr, os.ErrNotExist):
		return nil, false, fmt.Errorf("reading private key %s: %w", privPath, privErr)
	case pubErr != nil && !errors.Is(pubErr, os.ErrNotExist):
		return nil, false, fmt.Errorf("reading public key %s: %w", pubPath, pubErr)
	default:
		return nil, false, fmt.Errorf("key pair incomplete: found only one of %s and %s", privPath, pubPath)
	}

	pair, err := GeneratePemKeypair()
	if err != nil {
		return nil, false, err
	}
	for _, f := range []struct {
		path string
		data string
		mode os.FileMode
	}{
		{privPath, pair.Private, 0600},
		{pubPath, pair.Public, 0644},
	} {
		if dir := filepath.Dir(f.path); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, false, fmt.Errorf("creating key directory: %w", err)
			}
		}
		if err := os.WriteFile(f.path, []byte(f.data), f.mode); err != nil {
			return nil, false, fmt.Errorf("writing %s: %w", f.path, err)
		}
	}
	return pair, true, nil
}
