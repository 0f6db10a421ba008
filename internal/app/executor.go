/**
 * @description
 * The payout executor settles APPROVED withdrawals. It verifies the
 * executor's transaction PIN, hands the provider call to the store's
 * settlement transaction, and records a recovery entry whenever the provider
 * was invoked but settlement could not be completed cleanly.
 *
 * @dependencies
 * - internal/domain, internal/store: Models and the settlement transaction.
 * - pkg/payoutclient: The external transfer API.
 * - pkg/rabbitmq: Payout event publishing.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/poolvault/treasury-service/internal/domain"
	"github.com/poolvault/treasury-service/internal/store"
	"github.com/poolvault/treasury-service/pkg/payoutclient"
	"github.com/poolvault/treasury-service/pkg/rabbitmq"
)

const payoutProviderName = "flutterwave"

// TransferInitiator is the slice of the payout provider client the executor
// uses. Satisfied by *payoutclient.Client.
type TransferInitiator interface {
	InitiateTransfer(ctx context.Context, transfer payoutclient.TransferRequest) (*payoutclient.TransferResponse, error)
}

// Executor drives payout execution for approved withdrawals.
type Executor struct {
	repo          store.Repository
	provider      TransferInitiator
	eventProducer rabbitmq.Publisher
	service       *Service

	executeLimiter RateLimiter
	executePolicy  RateLimitPolicy
}

// NewExecutor creates a payout executor. The service is used for transaction
// PIN verification.
func NewExecutor(repo store.Repository, provider TransferInitiator, producer rabbitmq.Publisher, service *Service) *Executor {
	return &Executor{
		repo:          repo,
		provider:      provider,
		eventProducer: producer,
		service:       service,
	}
}

// SetExecuteRateLimiter enables per-executor throttling of payout execution.
func (e *Executor) SetExecuteRateLimiter(limiter RateLimiter, policy RateLimitPolicy) {
	e.executeLimiter = limiter
	e.executePolicy = policy
}

// ExecuteWithdrawal pays out an APPROVED withdrawal after verifying the
// executor's transaction PIN. Retries of an already PAID withdrawal return
// the prior SUCCESS payout without touching the provider.
//
// Failures surface in a fixed order: unknown withdrawal, wrong status,
// missing role, then the PIN. The pre-checks here run against an unlocked
// read; the settlement transaction re-checks all of them under the row lock.
func (e *Executor) ExecuteWithdrawal(ctx context.Context, executorID, withdrawalID uuid.UUID, pin string) (*domain.PayoutResult, error) {
	if err := checkRateLimit(ctx, e.executeLimiter, "payout_execute", executorID.String(), e.executePolicy); err != nil {
		var limited *RateLimitedError
		if errors.As(err, &limited) {
			return nil, limited
		}
		log.Printf("level=warn component=executor msg=\"execute rate limiter unavailable\" executor_id=%s error=%q", executorID, err)
	}

	current, err := e.repo.FindWithdrawalByID(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.WithdrawalStatusApproved && current.Status != domain.WithdrawalStatusPaid {
		return nil, store.ErrWithdrawalNotApproved
	}
	membership, err := e.repo.FindMembership(ctx, executorID, current.GroupID)
	if err != nil {
		return nil, err
	}
	if !membership.CanAdminister() {
		return nil, store.ErrNotAuthorizedRole
	}

	if err := e.service.VerifyTransactionPIN(ctx, executorID, pin); err != nil {
		return nil, err
	}

	var (
		lastAttempt *domain.ProviderAttempt
		snapshot    *domain.WithdrawalRequest
	)
	attempt := func(w *domain.WithdrawalRequest) (*domain.ProviderAttempt, error) {
		snapshot = w
		resp, err := e.provider.InitiateTransfer(ctx, payoutclient.TransferRequest{
			AccountBank:     w.Beneficiary.BankName,
			AccountNumber:   w.Beneficiary.AccountNumber,
			Amount:          w.Amount,
			Currency:        "NGN",
			Narration:       w.Reason,
			Reference:       w.ID.String(),
			BeneficiaryName: w.Beneficiary.Name,
		})
		if err != nil {
			lastAttempt = &domain.ProviderAttempt{
				Status:   domain.PayoutStatusFailed,
				Provider: payoutProviderName,
			}
			return nil, err
		}

		payload, marshalErr := json.Marshal(resp)
		if marshalErr != nil {
			log.Printf("level=warn component=executor msg=\"failed to marshal provider response\" withdrawal_id=%s error=%q", w.ID, marshalErr)
		}
		status := domain.PayoutStatusFailed
		if resp.Accepted() {
			status = domain.PayoutStatusSuccess
		}
		lastAttempt = &domain.ProviderAttempt{
			Status:          status,
			Provider:        payoutProviderName,
			ProviderPayload: string(payload),
		}
		return lastAttempt, nil
	}

	result, err := e.repo.ExecutePayout(ctx, withdrawalID, executorID, attempt)
	if err != nil {
		// Only failures after the provider was actually invoked belong in
		// the recovery log.
		if lastAttempt != nil {
			e.recordRecovery(ctx, withdrawalID, lastAttempt, err)
			e.publishPayoutEvent(ctx, rabbitmq.RoutingKeyPayoutFailed, executorID, snapshot, lastAttempt)
		}
		return nil, err
	}

	if !result.AlreadySettled && result.Payout != nil {
		e.publishPayoutEvent(ctx, rabbitmq.RoutingKeyPayoutSucceeded, executorID, snapshot, lastAttempt)
	}
	return result, nil
}

func (e *Executor) recordRecovery(ctx context.Context, withdrawalID uuid.UUID, attempt *domain.ProviderAttempt, cause error) {
	record := &domain.PayoutRecoveryRecord{
		ID:             uuid.New(),
		WithdrawalID:   withdrawalID,
		AttemptPayload: attempt.ProviderPayload,
		ErrorDetail:    cause.Error(),
	}
	if err := e.repo.RecordPayoutRecovery(ctx, record); err != nil {
		log.Printf("level=error component=executor msg=\"failed to write payout recovery record\" withdrawal_id=%s error=%q", withdrawalID, err)
	}
}

func (e *Executor) publishPayoutEvent(ctx context.Context, routingKey string, executorID uuid.UUID, w *domain.WithdrawalRequest, attempt *domain.ProviderAttempt) {
	if e.eventProducer == nil || w == nil {
		return
	}
	event := domain.PayoutEvent{
		WithdrawalID: w.ID,
		GroupID:      w.GroupID,
		ExecutorID:   executorID,
		Amount:       w.Amount,
		Provider:     payoutProviderName,
		Timestamp:    time.Now().UTC(),
	}
	if attempt != nil {
		event.Status = attempt.Status
	}
	if err := e.eventProducer.Publish(ctx, rabbitmq.TreasuryEventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=executor msg=\"failed to publish payout event\" withdrawal_id=%s routing_key=%s error=%q", w.ID, routingKey, err)
	}
}
