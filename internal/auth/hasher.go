// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 32        // output length in bytes
)

// Hash algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// Bcrypt work factor bounds.
const (
	DefaultHashCost = 12
	MinHashCost     = 12
	MaxHashCost     = bcrypt.MaxCost
)

// bcrypt only considers the first 72 bytes of input and rejects longer ones.
const bcryptMaxPasswordBytes = 72

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code(CodeEmptyPassword).Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted one-way hash of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, and
	// (false, err) when the stored hash cannot be parsed.
	Verify(password, hash string) (bool, error)

	// NeedsUpgrade returns true if the hash was produced with other
	// parameters than the hasher is configured for.
	NeedsUpgrade(hash string) bool
}

// Hasher implements PasswordHasher. It hashes with the configured
// algorithm and verifies hashes of either supported algorithm.
type Hasher struct {
	algorithm string
	cost      int
}

// NewHasher creates a Hasher. cost is the bcrypt work factor and is ignored
// for argon2id, which uses fixed OWASP parameters.
func NewHasher(algorithm string, cost int) (*Hasher, error) {
	switch algorithm {
	case AlgorithmBcrypt:
		if cost < MinHashCost || cost > MaxHashCost {
			return nil, oops.Code("AUTH_INVALID_HASH_COST").
				With("cost", cost).
				Errorf("bcrypt cost must be between %d and %d", MinHashCost, MaxHashCost)
		}
	case AlgorithmArgon2id:
	default:
		return nil, oops.Code("AUTH_INVALID_HASH_ALGORITHM").
			With("algorithm", algorithm).
			Errorf("unsupported hash algorithm %q", algorithm)
	}
	return &Hasher{algorithm: algorithm, cost: cost}, nil
}

// NewArgon2idHasher creates a Hasher producing argon2id hashes.
func NewArgon2idHasher() *Hasher {
	return &Hasher{algorithm: AlgorithmArgon2id}
}

// Hash produces a hash of the password with the configured algorithm.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if h.algorithm == AlgorithmBcrypt {
		return hashBcrypt(password, h.cost)
	}
	return hashArgon2id(password)
}

// Verify checks if the password matches the hash.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, "$argon2id$"):
		return verifyArgon2id(password, encodedHash)
	case isBcryptHash(encodedHash):
		return verifyBcrypt(password, encodedHash)
	default:
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("unrecognized hash format")
	}
}

// NeedsUpgrade reports whether hash differs from what Hash would produce.
func (h *Hasher) NeedsUpgrade(encodedHash string) bool {
	if h.algorithm == AlgorithmArgon2id {
		return !strings.HasPrefix(encodedHash, "$argon2id$")
	}
	if !isBcryptHash(encodedHash) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return true
	}
	return cost < h.cost
}

func isBcryptHash(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}

func hashBcrypt(password string, cost int) (string, error) {
	if len(password) > bcryptMaxPasswordBytes {
		return "", oops.Code("AUTH_PASSWORD_TOO_LONG").
			With("max_bytes", bcryptMaxPasswordBytes).
			Errorf("password must be at most %d bytes", bcryptMaxPasswordBytes)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").With("algorithm", AlgorithmBcrypt).Wrap(err)
	}
	return string(hash), nil
}

func verifyBcrypt(password, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword), errors.Is(err, bcrypt.ErrPasswordTooLong):
		return false, nil
	default:
		return false, oops.Code("AUTH_INVALID_HASH").With("algorithm", AlgorithmBcrypt).Wrap(err)
	}
}

func hashArgon2id(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func verifyArgon2id(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if version != argon2.Version {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported argon2 version %d", version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}
	if time == 0 || memory == 0 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid argon2 cost parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	keyLen := len(expectedHash)
	if keyLen == 0 || keyLen > 1<<10 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", keyLen)
	}

	computedHash := argon2.IDKey([]byte(password), salt, time, memory, uint8(threads), uint32(keyLen)) //nolint:gosec // bounds checked above

	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1, nil
}
