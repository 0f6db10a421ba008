package app

import (
	"context"
	"testing"

	"github.com/poolvault/treasury-service/internal/store"
)

type sweeperRepoStub struct {
	store.Repository

	count     int64
	oldestAge int64
	calls     int
}

func (s *sweeperRepoStub) CountUnresolvedRecoveries(ctx context.Context) (int64, int64, error) {
	s.calls++
	return s.count, s.oldestAge, nil
}

func (s *sweeperRepoStub) CountStaleApprovedWithdrawals(ctx context.Context, olderThanSeconds int) (int64, error) {
	return 0, nil
}

func TestNewRecoverySweeper_RejectsInvalidSchedule(t *testing.T) {
	if _, err := NewRecoverySweeper(&sweeperRepoStub{}, "every ten minutes"); err == nil {
		t.Fatal("expected an invalid cron schedule to be rejected")
	}
}

func TestRecoverySweeper_SweepQueriesRecoveryLog(t *testing.T) {
	repo := &sweeperRepoStub{count: 3, oldestAge: 7200}
	sweeper, err := NewRecoverySweeper(repo, "*/10 * * * *")
	if err != nil {
		t.Fatalf("NewRecoverySweeper returned error: %v", err)
	}

	sweeper.sweep()
	if repo.calls != 1 {
		t.Fatalf("expected one recovery log query, got %d", repo.calls)
	}
}
