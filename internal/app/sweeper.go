/**
 * @description
 * Periodic sweep over the payout recovery log. The sweeper never mutates
 * anything; it surfaces unresolved recovery rows to the logs so operators
 * notice stuck settlements before members do.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: Schedule management.
 * - internal/store: Recovery log counts.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/poolvault/treasury-service/internal/store"
)

// RecoverySweeper periodically reports unresolved payout recovery entries.
type RecoverySweeper struct {
	repo store.Repository
	cron *cron.Cron
}

// NewRecoverySweeper creates a sweeper on the given cron schedule, e.g.
// "*/10 * * * *" for every ten minutes.
func NewRecoverySweeper(repo store.Repository, schedule string) (*RecoverySweeper, error) {
	s := &RecoverySweeper{
		repo: repo,
		cron: cron.New(),
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the schedule. Safe to call once.
func (s *RecoverySweeper) Start() {
	s.cron.Start()
	log.Printf("level=info component=recovery_sweeper msg=\"started\"")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *RecoverySweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Printf("level=info component=recovery_sweeper msg=\"stopped\"")
}

// staleApprovedAfter is how long a withdrawal may sit in APPROVED before the
// sweeper flags it as stuck.
const staleApprovedAfter = 24 * time.Hour

func (s *RecoverySweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, oldestAgeSeconds, err := s.repo.CountUnresolvedRecoveries(ctx)
	if err != nil {
		log.Printf("level=error component=recovery_sweeper msg=\"sweep failed\" error=%q", err)
		return
	}
	if count == 0 {
		log.Printf("level=info component=recovery_sweeper msg=\"no unresolved recoveries\"")
	} else {
		log.Printf("level=warn component=recovery_sweeper msg=\"unresolved payout recoveries need attention\" count=%d oldest_age_seconds=%d", count, oldestAgeSeconds)
	}

	stale, err := s.repo.CountStaleApprovedWithdrawals(ctx, int(staleApprovedAfter.Seconds()))
	if err != nil {
		log.Printf("level=error component=recovery_sweeper msg=\"stale approval check failed\" error=%q", err)
		return
	}
	if stale > 0 {
		log.Printf("level=warn component=recovery_sweeper msg=\"approved withdrawals awaiting execution\" count=%d older_than_hours=%d", stale, int(staleApprovedAfter.Hours()))
	}
}
