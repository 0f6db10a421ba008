/**
 * @description
 * Transaction PIN lifecycle: setting a PIN and verifying it before a payout
 * executes. PINs are hashed with argon2id; repeated failures lock the
 * credential for a configurable window, enforced atomically in the store so
 * concurrent guesses cannot slip past the counter.
 *
 * @dependencies
 * - crypto/rand, crypto/subtle, encoding/base64: Salt generation and
 *   constant-time comparison.
 * - golang.org/x/crypto/argon2: The PIN hashing primitive.
 * - internal/store: Credential persistence.
 */

package app

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 2
	argonKeyLen  = 32
	argonSaltLen = 16
)

var (
	ErrPINInvalidFormat      = errors.New("transaction pin must be exactly 4 digits")
	ErrPINMismatch           = errors.New("transaction pin is incorrect")
	ErrPINLocked             = errors.New("transaction pin is locked")
	ErrRecoveryTokenMismatch = errors.New("recovery token is invalid")
)

var pinPattern = regexp.MustCompile(`^[0-9]{4}$`)

const recoveryTokenLen = 32

// SetTransactionPIN hashes and stores a user's 4-digit transaction PIN and
// returns the one-time recovery token that can later reset it. A user who
// already has a PIN gets store.ErrTransactionPINExists.
func (s *Service) SetTransactionPIN(ctx context.Context, userID uuid.UUID, pin string) (string, error) {
	if !pinPattern.MatchString(pin) {
		return "", ErrPINInvalidFormat
	}
	encoded, err := hashPIN(pin)
	if err != nil {
		return "", fmt.Errorf("failed to hash pin: %w", err)
	}
	token, err := newRecoveryToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate recovery token: %w", err)
	}
	if err := s.repo.CreateTransactionPIN(ctx, userID, encoded, hashRecoveryToken(token)); err != nil {
		return "", err
	}
	return token, nil
}

// ResetTransactionPIN exchanges a valid recovery token for a new PIN. The old
// token is consumed; the returned replacement is shown to the user once.
func (s *Service) ResetTransactionPIN(ctx context.Context, userID uuid.UUID, recoveryToken, newPIN string) (string, error) {
	if !pinPattern.MatchString(newPIN) {
		return "", ErrPINInvalidFormat
	}

	cred, err := s.repo.GetTransactionPINCredential(ctx, userID)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(hashRecoveryToken(recoveryToken)), []byte(cred.RecoveryTokenHash)) != 1 {
		return "", ErrRecoveryTokenMismatch
	}

	encoded, err := hashPIN(newPIN)
	if err != nil {
		return "", fmt.Errorf("failed to hash pin: %w", err)
	}
	token, err := newRecoveryToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate recovery token: %w", err)
	}
	if err := s.repo.ResetTransactionPIN(ctx, userID, encoded, hashRecoveryToken(token)); err != nil {
		return "", err
	}
	return token, nil
}

// VerifyTransactionPIN checks a PIN against the stored credential, applying
// the lockout policy. A nil return means the PIN is correct and the failure
// counter has been reset.
func (s *Service) VerifyTransactionPIN(ctx context.Context, userID uuid.UUID, pin string) error {
	if !pinPattern.MatchString(pin) {
		return ErrPINInvalidFormat
	}

	cred, err := s.repo.GetTransactionPINCredential(ctx, userID)
	if err != nil {
		return err
	}
	if cred.LockedUntil != nil && cred.LockedUntil.After(time.Now()) {
		return ErrPINLocked
	}

	ok, err := verifyPIN(pin, cred.PINHash)
	if err != nil {
		return fmt.Errorf("failed to verify pin: %w", err)
	}
	if !ok {
		updated, recordErr := s.repo.RecordFailedPINAttempt(ctx, userID, s.pinMaxAttempts, s.pinLockoutSeconds)
		if recordErr != nil {
			log.Printf("level=error component=service msg=\"failed to record pin attempt\" user_id=%s error=%q", userID, recordErr)
			return ErrPINMismatch
		}
		if updated.LockedUntil != nil && updated.LockedUntil.After(time.Now()) {
			return ErrPINLocked
		}
		return ErrPINMismatch
	}

	if cred.FailedAttempts > 0 || cred.LockedUntil != nil {
		if err := s.repo.ResetPINFailureState(ctx, userID); err != nil {
			log.Printf("level=warn component=service msg=\"failed to reset pin failure state\" user_id=%s error=%q", userID, err)
		}
	}
	return nil
}

func newRecoveryToken() (string, error) {
	raw := make([]byte, recoveryTokenLen)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func hashRecoveryToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// hashPIN derives an argon2id hash and encodes it in the standard
// $argon2id$v=19$m=...,t=...,p=...$salt$hash form.
func hashPIN(pin string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(pin), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyPIN(pin, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.New("malformed pin hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("malformed pin hash version: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("malformed pin hash parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("malformed pin hash salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("malformed pin hash digest: %w", err)
	}

	key := argon2.IDKey([]byte(pin), salt, iterations, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}
