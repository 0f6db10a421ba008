/**
 * @description
 * This file contains the core business logic for the treasury-service. The
 * `Service` struct orchestrates the group money operations: recording inbound
 * credits on the ledger, creating withdrawal requests, and moving them
 * through the approval workflow.
 *
 * Key features:
 * - Validates input and membership before anything touches the database.
 * - Copies the group's approvals_required onto each new withdrawal so later
 *   policy changes never affect in-flight requests.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/poolvault/treasury-service/internal/domain"
	"github.com/poolvault/treasury-service/internal/store"
	"github.com/poolvault/treasury-service/pkg/rabbitmq"
)

const MaxReasonLength = 500

var (
	ErrInvalidAmount      = errors.New("amount must be a positive integer in kobo")
	ErrInvalidBeneficiary = errors.New("beneficiary requires a name, bank name and 10-digit account number")
	ErrReasonTooLong      = errors.New("reason exceeds the maximum length")
	ErrInvalidChannel     = errors.New("payment channel must be CHECKOUT or VA")
)

// Service provides the core business logic for the group treasury.
type Service struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher

	pinMaxAttempts    int
	pinLockoutSeconds int

	creditLimiter RateLimiter
	creditPolicy  RateLimitPolicy
}

// NewService creates a new treasury service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher, pinMaxAttempts, pinLockoutSeconds int) *Service {
	if pinMaxAttempts <= 0 {
		pinMaxAttempts = 5
	}
	if pinLockoutSeconds <= 0 {
		pinLockoutSeconds = 900
	}
	return &Service{
		repo:              repo,
		eventProducer:     producer,
		pinMaxAttempts:    pinMaxAttempts,
		pinLockoutSeconds: pinLockoutSeconds,
	}
}

// SetCreditRateLimiter enables per-group throttling of inbound payment
// notifications. A nil limiter disables it.
func (s *Service) SetCreditRateLimiter(limiter RateLimiter, policy RateLimitPolicy) {
	s.creditLimiter = limiter
	s.creditPolicy = policy
}

// requireMembership loads the caller's membership in the group, failing with
// store.ErrNotGroupMember for outsiders.
func (s *Service) requireMembership(ctx context.Context, userID, groupID uuid.UUID) (*domain.GroupMembership, error) {
	return s.repo.FindMembership(ctx, userID, groupID)
}

// RequestWithdrawal creates a PENDING withdrawal request against a group's
// pooled balance. Any member may request; the approval threshold is copied
// from the group at this moment.
func (s *Service) RequestWithdrawal(ctx context.Context, requesterID, groupID uuid.UUID, req domain.CreateWithdrawalRequest) (*domain.WithdrawalRequest, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !req.Beneficiary.Validate() {
		return nil, ErrInvalidBeneficiary
	}
	if len(req.Reason) > MaxReasonLength {
		return nil, ErrReasonTooLong
	}

	group, err := s.repo.FindGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMembership(ctx, requesterID, groupID); err != nil {
		return nil, err
	}

	// Advisory only; the authoritative balance check runs inside the payout
	// settlement transaction.
	balance, err := s.repo.GroupBalance(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if balance < req.Amount {
		return nil, store.ErrInsufficientBalance
	}

	withdrawal := &domain.WithdrawalRequest{
		ID:                uuid.New(),
		GroupID:           groupID,
		Amount:            req.Amount,
		Beneficiary:       req.Beneficiary,
		Reason:            req.Reason,
		RequestedBy:       requesterID,
		Status:            domain.WithdrawalStatusPending,
		ApprovalsRequired: group.ApprovalsRequired,
	}
	if err := s.repo.CreateWithdrawalRequest(ctx, withdrawal); err != nil {
		return nil, fmt.Errorf("failed to create withdrawal request: %w", err)
	}

	s.publishWithdrawalEvent(ctx, rabbitmq.RoutingKeyWithdrawalRequested, withdrawal, requesterID)
	return withdrawal, nil
}

// ApproveWithdrawal records an approval and reports whether the withdrawal
// crossed its threshold. The repository enforces the PENDING check, the
// no-self-approval rule and the one-approval-per-user constraint atomically.
func (s *Service) ApproveWithdrawal(ctx context.Context, approverID, withdrawalID uuid.UUID) (*domain.ApprovalOutcome, error) {
	outcome, err := s.repo.ApproveWithdrawal(ctx, withdrawalID, approverID)
	if err != nil {
		return nil, err
	}

	if outcome.WithdrawalStatus == domain.WithdrawalStatusApproved {
		if w, err := s.repo.FindWithdrawalByID(ctx, withdrawalID); err == nil {
			s.publishWithdrawalEvent(ctx, rabbitmq.RoutingKeyWithdrawalApproved, w, approverID)
		} else {
			log.Printf("level=warn component=service msg=\"approved withdrawal not readable for event\" withdrawal_id=%s error=%q", withdrawalID, err)
		}
	}
	return outcome, nil
}

// RejectWithdrawal declines a PENDING withdrawal. One rejection is terminal.
func (s *Service) RejectWithdrawal(ctx context.Context, rejecterID, withdrawalID uuid.UUID) (*domain.WithdrawalRequest, error) {
	w, err := s.repo.RejectWithdrawal(ctx, withdrawalID, rejecterID)
	if err != nil {
		return nil, err
	}
	s.publishWithdrawalEvent(ctx, rabbitmq.RoutingKeyWithdrawalDeclined, w, rejecterID)
	return w, nil
}

// GetWithdrawalDetail assembles a withdrawal with its approvals and payout
// attempts. Only members of the owning group may read it.
func (s *Service) GetWithdrawalDetail(ctx context.Context, callerID, withdrawalID uuid.UUID) (*domain.WithdrawalDetail, error) {
	w, err := s.repo.FindWithdrawalByID(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMembership(ctx, callerID, w.GroupID); err != nil {
		return nil, err
	}

	approvals, err := s.repo.ListApprovals(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	payouts, err := s.repo.ListPayouts(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}

	return &domain.WithdrawalDetail{
		Withdrawal: *w,
		Approvals:  approvals,
		Payouts:    payouts,
	}, nil
}

// ListGroupWithdrawals returns the group's withdrawals, newest first, with an
// optional status filter.
func (s *Service) ListGroupWithdrawals(ctx context.Context, callerID, groupID uuid.UUID, opts domain.WithdrawalListOptions) ([]domain.WithdrawalRequest, error) {
	if _, err := s.requireMembership(ctx, callerID, groupID); err != nil {
		return nil, err
	}
	return s.repo.ListGroupWithdrawals(ctx, groupID, opts)
}

// GetGroupBalance returns the ledger-derived pooled balance for a group.
func (s *Service) GetGroupBalance(ctx context.Context, callerID, groupID uuid.UUID) (int64, error) {
	if _, err := s.requireMembership(ctx, callerID, groupID); err != nil {
		return 0, err
	}
	return s.repo.GroupBalance(ctx, groupID)
}

// ListGroupLedger returns a page of the group's ledger entries, newest first.
func (s *Service) ListGroupLedger(ctx context.Context, callerID, groupID uuid.UUID, page, pageSize int) ([]domain.LedgerEntry, error) {
	if _, err := s.requireMembership(ctx, callerID, groupID); err != nil {
		return nil, err
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	if pageSize > 50 {
		pageSize = 50
	}
	return s.repo.ListLedgerEntries(ctx, groupID, pageSize, (page-1)*pageSize)
}

// RecordInboundCredit books a confirmed inbound payment as a CREDIT ledger
// entry. Re-delivered notifications carrying the same client ref return the
// original entry and publish nothing.
func (s *Service) RecordInboundCredit(ctx context.Context, params domain.CreditParams) (*domain.CreditResult, error) {
	if params.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if params.Channel != domain.ChannelCheckout && params.Channel != domain.ChannelVirtualAccount {
		return nil, ErrInvalidChannel
	}
	if _, err := s.repo.FindGroupByID(ctx, params.GroupID); err != nil {
		return nil, err
	}
	if err := checkRateLimit(ctx, s.creditLimiter, "payment_webhook", params.GroupID.String(), s.creditPolicy); err != nil {
		var limited *RateLimitedError
		if errors.As(err, &limited) {
			return nil, limited
		}
		log.Printf("level=warn component=service msg=\"credit rate limiter unavailable\" group_id=%s error=%q", params.GroupID, err)
	}

	result, err := s.repo.Credit(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to record credit: %w", err)
	}
	if result.Duplicate {
		log.Printf("level=info component=service msg=\"duplicate credit notification ignored\" group_id=%s client_ref=%v", params.GroupID, params.ClientRef)
		return result, nil
	}

	if s.eventProducer != nil {
		event := domain.LedgerCreditedEvent{
			EntryID:   result.Entry.ID,
			GroupID:   result.Entry.GroupID,
			Amount:    result.Entry.Amount,
			Channel:   result.Entry.Channel,
			Timestamp: time.Now().UTC(),
		}
		if err := s.eventProducer.Publish(ctx, rabbitmq.TreasuryEventsExchange, rabbitmq.RoutingKeyLedgerCredited, event); err != nil {
			log.Printf("level=warn component=service msg=\"failed to publish ledger credited event\" entry_id=%s error=%q", result.Entry.ID, err)
		}
	}
	return result, nil
}

func (s *Service) publishWithdrawalEvent(ctx context.Context, routingKey string, w *domain.WithdrawalRequest, actorID uuid.UUID) {
	if s.eventProducer == nil {
		return
	}
	event := domain.WithdrawalEvent{
		WithdrawalID: w.ID,
		GroupID:      w.GroupID,
		ActorID:      actorID,
		Amount:       w.Amount,
		Status:       w.Status,
		Timestamp:    time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, rabbitmq.TreasuryEventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=service msg=\"failed to publish withdrawal event\" withdrawal_id=%s routing_key=%s error=%q", w.ID, routingKey, err)
	}
}
