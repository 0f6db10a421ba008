package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/poolvault/treasury-service/internal/domain"
	"github.com/poolvault/treasury-service/internal/store"
)

type pinRepoStub struct {
	store.Repository

	credential *domain.TransactionPINCredential

	createdHash       string
	createdTokenHash  string
	resetPINHash      string
	failedAttemptCred *domain.TransactionPINCredential
	recordFailedCalls int
	resetCalled       bool
}

func (s *pinRepoStub) CreateTransactionPIN(ctx context.Context, userID uuid.UUID, pinHash, recoveryTokenHash string) error {
	s.createdHash = pinHash
	s.createdTokenHash = recoveryTokenHash
	return nil
}

func (s *pinRepoStub) ResetTransactionPIN(ctx context.Context, userID uuid.UUID, pinHash, recoveryTokenHash string) error {
	s.resetPINHash = pinHash
	return nil
}

func (s *pinRepoStub) GetTransactionPINCredential(ctx context.Context, userID uuid.UUID) (*domain.TransactionPINCredential, error) {
	if s.credential == nil {
		return nil, store.ErrTransactionPINNotSet
	}
	return s.credential, nil
}

func (s *pinRepoStub) RecordFailedPINAttempt(ctx context.Context, userID uuid.UUID, maxAttempts, lockoutSeconds int) (*domain.TransactionPINCredential, error) {
	s.recordFailedCalls++
	return s.failedAttemptCred, nil
}

func (s *pinRepoStub) ResetPINFailureState(ctx context.Context, userID uuid.UUID) error {
	s.resetCalled = true
	return nil
}

func TestHashPIN_VerifyRoundTrip(t *testing.T) {
	encoded, err := hashPIN("4821")
	if err != nil {
		t.Fatalf("hashPIN returned error: %v", err)
	}

	ok, err := verifyPIN("4821", encoded)
	if err != nil {
		t.Fatalf("verifyPIN returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected the correct pin to verify")
	}

	ok, err = verifyPIN("4822", encoded)
	if err != nil {
		t.Fatalf("verifyPIN returned error: %v", err)
	}
	if ok {
		t.Fatal("expected a wrong pin to fail verification")
	}
}

func TestVerifyPIN_RejectsMalformedHash(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA"},
		{"missing sections", "$argon2id$v=19$m=65536,t=3,p=2"},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=3,p=2$!!!$aGFzaA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := verifyPIN("1234", tt.encoded); err == nil {
				t.Fatal("expected an error for a malformed hash")
			}
		})
	}
}

func TestSetTransactionPIN_ValidatesFormat(t *testing.T) {
	repo := &pinRepoStub{}
	svc := NewService(repo, &publisherStub{}, 5, 900)

	for _, pin := range []string{"", "123", "12345", "12a4", "١٢٣٤"} {
		if _, err := svc.SetTransactionPIN(context.Background(), uuid.New(), pin); !errors.Is(err, ErrPINInvalidFormat) {
			t.Fatalf("pin %q: expected ErrPINInvalidFormat, got %v", pin, err)
		}
	}
	if repo.createdHash != "" {
		t.Fatal("expected no credential to be stored for invalid pins")
	}

	token, err := svc.SetTransactionPIN(context.Background(), uuid.New(), "0042")
	if err != nil {
		t.Fatalf("SetTransactionPIN returned error: %v", err)
	}
	if token == "" {
		t.Fatal("expected a recovery token to be returned")
	}
	if repo.createdHash == "" {
		t.Fatal("expected the hashed pin to be stored")
	}
	if repo.createdHash == "0042" {
		t.Fatal("expected the stored pin to be hashed, not plaintext")
	}
	if repo.createdTokenHash == "" || repo.createdTokenHash == token {
		t.Fatal("expected the recovery token to be stored as a hash")
	}
}

func TestResetTransactionPIN(t *testing.T) {
	userID := uuid.New()
	encoded, err := hashPIN("1234")
	if err != nil {
		t.Fatalf("hashPIN returned error: %v", err)
	}
	token, err := newRecoveryToken()
	if err != nil {
		t.Fatalf("newRecoveryToken returned error: %v", err)
	}

	newStub := func() *pinRepoStub {
		return &pinRepoStub{credential: &domain.TransactionPINCredential{
			UserID:            userID,
			PINHash:           encoded,
			RecoveryTokenHash: hashRecoveryToken(token),
		}}
	}

	t.Run("valid token rotates pin and token", func(t *testing.T) {
		repo := newStub()
		svc := NewService(repo, &publisherStub{}, 5, 900)

		newToken, err := svc.ResetTransactionPIN(context.Background(), userID, token, "5678")
		if err != nil {
			t.Fatalf("ResetTransactionPIN returned error: %v", err)
		}
		if newToken == "" || newToken == token {
			t.Fatal("expected a fresh recovery token")
		}
		if repo.resetPINHash == "" || repo.resetPINHash == encoded {
			t.Fatal("expected a new pin hash to be stored")
		}
		ok, err := verifyPIN("5678", repo.resetPINHash)
		if err != nil || !ok {
			t.Fatalf("expected the new pin to verify against the stored hash (ok=%v err=%v)", ok, err)
		}
	})

	t.Run("wrong token rejected", func(t *testing.T) {
		repo := newStub()
		svc := NewService(repo, &publisherStub{}, 5, 900)

		if _, err := svc.ResetTransactionPIN(context.Background(), userID, "not-the-token", "5678"); !errors.Is(err, ErrRecoveryTokenMismatch) {
			t.Fatalf("expected ErrRecoveryTokenMismatch, got %v", err)
		}
		if repo.resetPINHash != "" {
			t.Fatal("expected no reset on a bad token")
		}
	})

	t.Run("invalid new pin rejected", func(t *testing.T) {
		svc := NewService(newStub(), &publisherStub{}, 5, 900)
		if _, err := svc.ResetTransactionPIN(context.Background(), userID, token, "56789"); !errors.Is(err, ErrPINInvalidFormat) {
			t.Fatalf("expected ErrPINInvalidFormat, got %v", err)
		}
	})
}

func TestVerifyTransactionPIN_LockoutFlow(t *testing.T) {
	userID := uuid.New()
	encoded, err := hashPIN("7310")
	if err != nil {
		t.Fatalf("hashPIN returned error: %v", err)
	}

	t.Run("pin not set", func(t *testing.T) {
		svc := NewService(&pinRepoStub{}, &publisherStub{}, 5, 900)
		if err := svc.VerifyTransactionPIN(context.Background(), userID, "7310"); !errors.Is(err, store.ErrTransactionPINNotSet) {
			t.Fatalf("expected ErrTransactionPINNotSet, got %v", err)
		}
	})

	t.Run("already locked", func(t *testing.T) {
		until := time.Now().Add(5 * time.Minute)
		repo := &pinRepoStub{credential: &domain.TransactionPINCredential{UserID: userID, PINHash: encoded, LockedUntil: &until}}
		svc := NewService(repo, &publisherStub{}, 5, 900)

		if err := svc.VerifyTransactionPIN(context.Background(), userID, "7310"); !errors.Is(err, ErrPINLocked) {
			t.Fatalf("expected ErrPINLocked, got %v", err)
		}
		if repo.recordFailedCalls != 0 {
			t.Fatal("expected no attempt to be recorded while locked")
		}
	})

	t.Run("mismatch below threshold", func(t *testing.T) {
		repo := &pinRepoStub{
			credential:        &domain.TransactionPINCredential{UserID: userID, PINHash: encoded},
			failedAttemptCred: &domain.TransactionPINCredential{UserID: userID, PINHash: encoded, FailedAttempts: 1},
		}
		svc := NewService(repo, &publisherStub{}, 5, 900)

		if err := svc.VerifyTransactionPIN(context.Background(), userID, "0000"); !errors.Is(err, ErrPINMismatch) {
			t.Fatalf("expected ErrPINMismatch, got %v", err)
		}
		if repo.recordFailedCalls != 1 {
			t.Fatalf("expected one recorded attempt, got %d", repo.recordFailedCalls)
		}
	})

	t.Run("mismatch crossing threshold locks", func(t *testing.T) {
		until := time.Now().Add(15 * time.Minute)
		repo := &pinRepoStub{
			credential:        &domain.TransactionPINCredential{UserID: userID, PINHash: encoded, FailedAttempts: 4},
			failedAttemptCred: &domain.TransactionPINCredential{UserID: userID, PINHash: encoded, FailedAttempts: 5, LockedUntil: &until},
		}
		svc := NewService(repo, &publisherStub{}, 5, 900)

		if err := svc.VerifyTransactionPIN(context.Background(), userID, "0000"); !errors.Is(err, ErrPINLocked) {
			t.Fatalf("expected ErrPINLocked, got %v", err)
		}
	})

	t.Run("success resets failure state", func(t *testing.T) {
		repo := &pinRepoStub{
			credential: &domain.TransactionPINCredential{UserID: userID, PINHash: encoded, FailedAttempts: 2},
		}
		svc := NewService(repo, &publisherStub{}, 5, 900)

		if err := svc.VerifyTransactionPIN(context.Background(), userID, "7310"); err != nil {
			t.Fatalf("VerifyTransactionPIN returned error: %v", err)
		}
		if !repo.resetCalled {
			t.Fatal("expected the failure counter to be reset after a correct pin")
		}
	})
}
