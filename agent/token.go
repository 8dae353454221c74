package agent

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/id"
)

// Token is an agent credential bound at issuance to a region. Only the
// SHA-256 digest of the bearer secret is stored; the plaintext is shown
// once at issuance and never again.
type Token struct {
	ID        id.TokenID     `json:"id"`
	Digest    string         `json:"-"`
	Region    voxgrid.Region `json:"region"`
	Name      string         `json:"name"`
	Revoked   bool           `json:"revoked"`
	CreatedAt time.Time      `json:"created_at"`
}

// secretBytes is the entropy of a generated secret. 32 random bytes make
// stretching unnecessary: a plain digest lookup is sufficient.
const secretBytes = 32

// GenerateSecret returns a new random bearer secret in hex form.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("agent: generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// DigestSecret returns the hex SHA-256 digest under which a secret is
// stored and looked up.
func DigestSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// NewToken issues a token for a region. It returns the token record to
// persist and the plaintext secret to hand to the operator.
func NewToken(region voxgrid.Region, name string) (*Token, string, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	t := &Token{
		ID:        id.NewTokenID(),
		Digest:    DigestSecret(secret),
		Region:    region,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	return t, secret, nil
}
