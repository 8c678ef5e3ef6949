// Package auth authenticates collaborator service keys and carries the
// dashboard session through request contexts.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (OWASP 2024 recommended minimum).
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

var (
	// ErrInvalidHash indicates the hash format is invalid.
	ErrInvalidHash = errors.New("invalid hash format")
	// ErrIncompatibleVersion indicates the hash version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
)

// HashKey creates an Argon2id hash of a service key in PHC string format:
// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
func HashKey(key string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(key), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// VerifyKey checks key against a PHC encoded hash in constant time.
func VerifyKey(key, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, ErrInvalidHash
	}
	if version != argon2.Version {
		return false, ErrIncompatibleVersion
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, ErrInvalidHash
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, ErrInvalidHash
	}

	computed := argon2.IDKey([]byte(key), salt, iterations, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// fingerprint returns a SHA256 digest of the key for the verified-key cache.
// Not for storage.
func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

// KeySet verifies presented service keys against the configured hashes.
// Keys that verified once are remembered by fingerprint so the argon2 cost
// is paid once per key and process.
type KeySet struct {
	hashes []string

	mu       sync.RWMutex
	verified map[string]struct{}
}

// NewKeySet creates a KeySet. Malformed hashes are rejected up front.
func NewKeySet(hashes []string) (*KeySet, error) {
	clean := make([]string, 0, len(hashes))
	for _, h := range hashes {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, err := VerifyKey("", h); err != nil {
			return nil, fmt.Errorf("service key hash %d: %w", len(clean), err)
		}
		clean = append(clean, h)
	}
	return &KeySet{hashes: clean, verified: make(map[string]struct{})}, nil
}

// Enabled reports whether any hash is configured.
func (s *KeySet) Enabled() bool {
	return len(s.hashes) > 0
}

// Verify reports whether key matches one of the configured hashes.
func (s *KeySet) Verify(key string) bool {
	if key == "" {
		return false
	}
	fp := fingerprint(key)

	s.mu.RLock()
	_, ok := s.verified[fp]
	s.mu.RUnlock()
	if ok {
		return true
	}

	for _, h := range s.hashes {
		if match, err := VerifyKey(key, h); err == nil && match {
			s.mu.Lock()
			s.verified[fp] = struct{}{}
			s.mu.Unlock()
			return true
		}
	}
	return false
}
