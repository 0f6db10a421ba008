package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/poolvault/treasury-service/internal/domain"
	"github.com/poolvault/treasury-service/internal/store"
)

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type publisherStub struct {
	events []publishedEvent
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *publisherStub) Close() {}

type workflowRepoStub struct {
	store.Repository

	group      *domain.Group
	membership *domain.GroupMembership
	balance    int64

	createdWithdrawal *domain.WithdrawalRequest
	approveOutcome    *domain.ApprovalOutcome
	approveErr        error
	foundWithdrawal   *domain.WithdrawalRequest
	creditResult      *domain.CreditResult
	creditErr         error
	lastCreditParams  *domain.CreditParams

	lastListLimit  int
	lastListOffset int
}

func (s *workflowRepoStub) FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	if s.group == nil {
		return nil, store.ErrGroupNotFound
	}
	return s.group, nil
}

func (s *workflowRepoStub) FindMembership(ctx context.Context, userID, groupID uuid.UUID) (*domain.GroupMembership, error) {
	if s.membership == nil {
		return nil, store.ErrNotGroupMember
	}
	return s.membership, nil
}

func (s *workflowRepoStub) GroupBalance(ctx context.Context, groupID uuid.UUID) (int64, error) {
	return s.balance, nil
}

func (s *workflowRepoStub) CreateWithdrawalRequest(ctx context.Context, w *domain.WithdrawalRequest) error {
	s.createdWithdrawal = w
	return nil
}

func (s *workflowRepoStub) ApproveWithdrawal(ctx context.Context, withdrawalID, approverID uuid.UUID) (*domain.ApprovalOutcome, error) {
	if s.approveErr != nil {
		return nil, s.approveErr
	}
	return s.approveOutcome, nil
}

func (s *workflowRepoStub) FindWithdrawalByID(ctx context.Context, withdrawalID uuid.UUID) (*domain.WithdrawalRequest, error) {
	if s.foundWithdrawal == nil {
		return nil, store.ErrWithdrawalNotFound
	}
	return s.foundWithdrawal, nil
}

func (s *workflowRepoStub) Credit(ctx context.Context, params domain.CreditParams) (*domain.CreditResult, error) {
	s.lastCreditParams = &params
	if s.creditErr != nil {
		return nil, s.creditErr
	}
	return s.creditResult, nil
}

func (s *workflowRepoStub) ListLedgerEntries(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	s.lastListLimit = limit
	s.lastListOffset = offset
	return nil, nil
}

func validBeneficiary() domain.Beneficiary {
	return domain.Beneficiary{
		Name:          "Ada Obi",
		BankName:      "First Bank",
		AccountNumber: "0123456789",
	}
}

func TestRequestWithdrawal_CopiesApprovalThresholdFromGroup(t *testing.T) {
	groupID := uuid.New()
	requesterID := uuid.New()
	repo := &workflowRepoStub{
		group:      &domain.Group{ID: groupID, Name: "Lagos Ajo", ApprovalsRequired: 3},
		membership: &domain.GroupMembership{UserID: requesterID, GroupID: groupID, RoleInGroup: domain.RoleMember},
		balance:    200000,
	}
	producer := &publisherStub{}
	svc := NewService(repo, producer, 5, 900)

	w, err := svc.RequestWithdrawal(context.Background(), requesterID, groupID, domain.CreateWithdrawalRequest{
		Amount:      50000,
		Beneficiary: validBeneficiary(),
		Reason:      "December contribution payout",
	})
	if err != nil {
		t.Fatalf("RequestWithdrawal returned error: %v", err)
	}
	if w.ApprovalsRequired != 3 {
		t.Fatalf("expected approvals_required copied from group (3), got %d", w.ApprovalsRequired)
	}
	if w.Status != domain.WithdrawalStatusPending {
		t.Fatalf("expected new withdrawal to be PENDING, got %s", w.Status)
	}
	if repo.createdWithdrawal == nil {
		t.Fatal("expected withdrawal to be persisted")
	}
	if len(producer.events) != 1 || producer.events[0].routingKey != "withdrawal.requested" {
		t.Fatalf("expected a withdrawal.requested event, got %+v", producer.events)
	}
}

func TestRequestWithdrawal_RejectsInvalidInput(t *testing.T) {
	groupID := uuid.New()
	requesterID := uuid.New()
	repo := &workflowRepoStub{
		group:      &domain.Group{ID: groupID, ApprovalsRequired: 1},
		membership: &domain.GroupMembership{UserID: requesterID, GroupID: groupID, RoleInGroup: domain.RoleMember},
		balance:    200000,
	}
	svc := NewService(repo, &publisherStub{}, 5, 900)

	tests := []struct {
		name    string
		req     domain.CreateWithdrawalRequest
		wantErr error
	}{
		{
			name:    "zero amount",
			req:     domain.CreateWithdrawalRequest{Amount: 0, Beneficiary: validBeneficiary()},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			req:     domain.CreateWithdrawalRequest{Amount: -500, Beneficiary: validBeneficiary()},
			wantErr: ErrInvalidAmount,
		},
		{
			name: "short account number",
			req: domain.CreateWithdrawalRequest{
				Amount:      1000,
				Beneficiary: domain.Beneficiary{Name: "Ada", BankName: "First Bank", AccountNumber: "12345"},
			},
			wantErr: ErrInvalidBeneficiary,
		},
		{
			name: "missing bank name",
			req: domain.CreateWithdrawalRequest{
				Amount:      1000,
				Beneficiary: domain.Beneficiary{Name: "Ada", AccountNumber: "0123456789"},
			},
			wantErr: ErrInvalidBeneficiary,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.RequestWithdrawal(context.Background(), requesterID, groupID, tt.req); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRequestWithdrawal_RejectsNonMembers(t *testing.T) {
	groupID := uuid.New()
	repo := &workflowRepoStub{
		group: &domain.Group{ID: groupID, ApprovalsRequired: 1},
	}
	svc := NewService(repo, &publisherStub{}, 5, 900)

	_, err := svc.RequestWithdrawal(context.Background(), uuid.New(), groupID, domain.CreateWithdrawalRequest{
		Amount:      1000,
		Beneficiary: validBeneficiary(),
	})
	if !errors.Is(err, store.ErrNotGroupMember) {
		t.Fatalf("expected ErrNotGroupMember, got %v", err)
	}
	if repo.createdWithdrawal != nil {
		t.Fatal("expected no withdrawal to be persisted for a non-member")
	}
}

func TestRequestWithdrawal_RejectsAmountAboveBalance(t *testing.T) {
	groupID := uuid.New()
	requesterID := uuid.New()
	repo := &workflowRepoStub{
		group:      &domain.Group{ID: groupID, ApprovalsRequired: 1},
		membership: &domain.GroupMembership{UserID: requesterID, GroupID: groupID, RoleInGroup: domain.RoleMember},
		balance:    40000,
	}
	svc := NewService(repo, &publisherStub{}, 5, 900)

	_, err := svc.RequestWithdrawal(context.Background(), requesterID, groupID, domain.CreateWithdrawalRequest{
		Amount:      40001,
		Beneficiary: validBeneficiary(),
	})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if repo.createdWithdrawal != nil {
		t.Fatal("expected no withdrawal to be persisted above the pooled balance")
	}
}

func TestApproveWithdrawal_PublishesEventOnlyWhenPromoted(t *testing.T) {
	withdrawalID := uuid.New()
	approverID := uuid.New()

	t.Run("still pending", func(t *testing.T) {
		producer := &publisherStub{}
		repo := &workflowRepoStub{
			approveOutcome: &domain.ApprovalOutcome{
				WithdrawalID:      withdrawalID,
				CurrentApprovals:  1,
				ApprovalsRequired: 2,
				WithdrawalStatus:  domain.WithdrawalStatusPending,
			},
		}
		svc := NewService(repo, producer, 5, 900)

		outcome, err := svc.ApproveWithdrawal(context.Background(), approverID, withdrawalID)
		if err != nil {
			t.Fatalf("ApproveWithdrawal returned error: %v", err)
		}
		if outcome.WithdrawalStatus != domain.WithdrawalStatusPending {
			t.Fatalf("expected PENDING outcome, got %s", outcome.WithdrawalStatus)
		}
		if len(producer.events) != 0 {
			t.Fatalf("expected no events before promotion, got %+v", producer.events)
		}
	})

	t.Run("promoted to approved", func(t *testing.T) {
		producer := &publisherStub{}
		repo := &workflowRepoStub{
			approveOutcome: &domain.ApprovalOutcome{
				WithdrawalID:      withdrawalID,
				CurrentApprovals:  2,
				ApprovalsRequired: 2,
				WithdrawalStatus:  domain.WithdrawalStatusApproved,
			},
			foundWithdrawal: &domain.WithdrawalRequest{
				ID:     withdrawalID,
				Status: domain.WithdrawalStatusApproved,
				Amount: 50000,
			},
		}
		svc := NewService(repo, producer, 5, 900)

		if _, err := svc.ApproveWithdrawal(context.Background(), approverID, withdrawalID); err != nil {
			t.Fatalf("ApproveWithdrawal returned error: %v", err)
		}
		if len(producer.events) != 1 || producer.events[0].routingKey != "withdrawal.approved" {
			t.Fatalf("expected a withdrawal.approved event, got %+v", producer.events)
		}
	})
}

func TestApproveWithdrawal_PropagatesDuplicateApproval(t *testing.T) {
	repo := &workflowRepoStub{approveErr: store.ErrDuplicateApproval}
	svc := NewService(repo, &publisherStub{}, 5, 900)

	_, err := svc.ApproveWithdrawal(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, store.ErrDuplicateApproval) {
		t.Fatalf("expected ErrDuplicateApproval, got %v", err)
	}
}

func TestRecordInboundCredit_DuplicatePublishesNothing(t *testing.T) {
	groupID := uuid.New()
	ref := "psp_evt_001"
	entry := &domain.LedgerEntry{
		ID:      uuid.New(),
		GroupID: groupID,
		Type:    domain.EntryTypeCredit,
		Amount:  25000,
		Channel: domain.ChannelCheckout,
	}

	t.Run("first delivery publishes ledger.credited", func(t *testing.T) {
		producer := &publisherStub{}
		repo := &workflowRepoStub{
			group:        &domain.Group{ID: groupID, ApprovalsRequired: 1},
			creditResult: &domain.CreditResult{Entry: entry, Duplicate: false},
		}
		svc := NewService(repo, producer, 5, 900)

		result, err := svc.RecordInboundCredit(context.Background(), domain.CreditParams{
			GroupID: groupID, Amount: 25000, Source: "checkout", ClientRef: &ref, Channel: domain.ChannelCheckout,
		})
		if err != nil {
			t.Fatalf("RecordInboundCredit returned error: %v", err)
		}
		if result.Duplicate {
			t.Fatal("expected first delivery not to be a duplicate")
		}
		if len(producer.events) != 1 || producer.events[0].routingKey != "ledger.credited" {
			t.Fatalf("expected a ledger.credited event, got %+v", producer.events)
		}
	})

	t.Run("redelivery publishes nothing", func(t *testing.T) {
		producer := &publisherStub{}
		repo := &workflowRepoStub{
			group:        &domain.Group{ID: groupID, ApprovalsRequired: 1},
			creditResult: &domain.CreditResult{Entry: entry, Duplicate: true},
		}
		svc := NewService(repo, producer, 5, 900)

		result, err := svc.RecordInboundCredit(context.Background(), domain.CreditParams{
			GroupID: groupID, Amount: 25000, Source: "checkout", ClientRef: &ref, Channel: domain.ChannelCheckout,
		})
		if err != nil {
			t.Fatalf("RecordInboundCredit returned error: %v", err)
		}
		if !result.Duplicate {
			t.Fatal("expected redelivery to be flagged duplicate")
		}
		if len(producer.events) != 0 {
			t.Fatalf("expected no events for a duplicate, got %+v", producer.events)
		}
	})
}

func TestRecordInboundCredit_RejectsUnknownChannel(t *testing.T) {
	svc := NewService(&workflowRepoStub{}, &publisherStub{}, 5, 900)

	_, err := svc.RecordInboundCredit(context.Background(), domain.CreditParams{
		GroupID: uuid.New(), Amount: 1000, Channel: "CASH",
	})
	if !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
}

func TestListGroupLedger_ClampsPageSize(t *testing.T) {
	groupID := uuid.New()
	callerID := uuid.New()
	repo := &workflowRepoStub{
		membership: &domain.GroupMembership{UserID: callerID, GroupID: groupID, RoleInGroup: domain.RoleMember},
	}
	svc := NewService(repo, &publisherStub{}, 5, 900)

	if _, err := svc.ListGroupLedger(context.Background(), callerID, groupID, 3, 500); err != nil {
		t.Fatalf("ListGroupLedger returned error: %v", err)
	}
	if repo.lastListLimit != 50 {
		t.Fatalf("expected page size clamped to 50, got %d", repo.lastListLimit)
	}
	if repo.lastListOffset != 100 {
		t.Fatalf("expected offset 100 for page 3 of 50, got %d", repo.lastListOffset)
	}
}
