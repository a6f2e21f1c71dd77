package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Credentials is the opaque client id/secret pair issued to an organization at
// signup. Organizations use it for API-to-API authentication downstream; it is
// distinct from user session tokens.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// GenerateCredentials produces a fresh client pair from a cryptographically
// secure source: 16 random bytes hex-encoded for the id, 32 for the secret.
func GenerateCredentials() (Credentials, error) {
	id, err := randomHex(16)
	if err != nil {
		return Credentials{}, fmt.Errorf("generate client id: %w", err)
	}
	secret, err := randomHex(32)
	if err != nil {
		return Credentials{}, fmt.Errorf("generate client secret: %w", err)
	}
	return Credentials{ClientID: id, ClientSecret: secret}, nil
}

// GenerateNetworkKey produces the opaque network key assigned to an
// organization when it joins the directory.
func GenerateNetworkKey() (string, error) {
	key, err := randomHex(16)
	if err != nil {
		return "", fmt.Errorf("generate network key: %w", err)
	}
	return key, nil
}

func randomHex(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
