// Package apikey validates admin API keys. Keys come from configuration and
// only their SHA-256 digests are kept in memory; a presented key is hashed
// and compared in constant time.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
)

var ErrInvalidKey = errors.New("invalid api key")

// KeyInfo identifies a validated key without revealing it.
type KeyInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type storedKey struct {
	hash [sha256.Size]byte
	info KeyInfo
}

type Validator struct {
	keys []storedKey
}

// NewValidator hashes keys. Blank entries are ignored.
func NewValidator(keys []string) *Validator {
	v := &Validator{}
	for i, raw := range keys {
		if raw == "" {
			continue
		}
		sum := sha256.Sum256([]byte(raw))
		id := hex.EncodeToString(sum[:4])
		v.keys = append(v.keys, storedKey{
			hash: sum,
			info: KeyInfo{ID: id, Name: "admin-" + strconv.Itoa(i)},
		})
	}
	return v
}

// Enabled reports whether any key is configured.
func (v *Validator) Enabled() bool {
	return len(v.keys) > 0
}

// Validate returns the KeyInfo of the configured key matching rawKey. Every
// configured key is compared so timing does not depend on which one matched.
func (v *Validator) Validate(_ context.Context, rawKey string) (*KeyInfo, error) {
	sum := sha256.Sum256([]byte(rawKey))
	var found *KeyInfo
	for i := range v.keys {
		if subtle.ConstantTimeCompare(sum[:], v.keys[i].hash[:]) == 1 {
			found = &v.keys[i].info
		}
	}
	if found == nil {
		return nil, ErrInvalidKey
	}
	info := *found
	return &info, nil
}

// Authenticate returns the id of the key, for request logging.
func (v *Validator) Authenticate(ctx context.Context, rawKey string) (string, error) {
	info, err := v.Validate(ctx, rawKey)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// HashKey returns the SHA-256 hex digest of a raw API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a random 32-byte hex-encoded key.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
