package app

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/poolvault/treasury-service/internal/domain"
)

func marshalPaymentEvent(t *testing.T, event domain.PaymentConfirmedEvent) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return body
}

func TestPaymentEventConsumer_RecordsCredit(t *testing.T) {
	groupID := uuid.New()
	repo := &workflowRepoStub{
		group: &domain.Group{ID: groupID, ApprovalsRequired: 1},
		creditResult: &domain.CreditResult{
			Entry: &domain.LedgerEntry{ID: uuid.New(), GroupID: groupID, Amount: 150000, Channel: domain.ChannelVirtualAccount},
		},
	}
	producer := &publisherStub{}
	consumer := NewPaymentEventConsumer(NewService(repo, producer, 5, 900))

	ack := consumer.HandleMessage(marshalPaymentEvent(t, domain.PaymentConfirmedEvent{
		GroupID:   groupID,
		Amount:    150000,
		Source:    "va_deposit",
		ClientRef: "psp_evt_778",
		Channel:   "va",
	}))
	if !ack {
		t.Fatal("expected a valid event to be acknowledged")
	}
	if repo.lastCreditParams == nil {
		t.Fatal("expected a credit to be recorded")
	}
	if repo.lastCreditParams.Channel != domain.ChannelVirtualAccount {
		t.Fatalf("expected channel normalized to VA, got %q", repo.lastCreditParams.Channel)
	}
	if repo.lastCreditParams.ClientRef == nil || *repo.lastCreditParams.ClientRef != "psp_evt_778" {
		t.Fatalf("expected client ref to be carried through, got %v", repo.lastCreditParams.ClientRef)
	}
	if len(producer.events) != 1 || producer.events[0].routingKey != "ledger.credited" {
		t.Fatalf("expected a ledger.credited event, got %+v", producer.events)
	}
}

func TestPaymentEventConsumer_AcksUnprocessablePayloads(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"malformed json", []byte(`{"group_id":`)},
		{"missing group id", []byte(`{"amount":1000,"channel":"CHECKOUT"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &workflowRepoStub{}
			consumer := NewPaymentEventConsumer(NewService(repo, &publisherStub{}, 5, 900))

			if !consumer.HandleMessage(tt.body) {
				t.Fatal("expected an unprocessable payload to be acknowledged, not re-queued")
			}
			if repo.lastCreditParams != nil {
				t.Fatal("expected no credit attempt for an unprocessable payload")
			}
		})
	}
}

func TestPaymentEventConsumer_DropsEventsThatCanNeverSucceed(t *testing.T) {
	groupID := uuid.New()

	t.Run("unknown group", func(t *testing.T) {
		consumer := NewPaymentEventConsumer(NewService(&workflowRepoStub{}, &publisherStub{}, 5, 900))
		ack := consumer.HandleMessage(marshalPaymentEvent(t, domain.PaymentConfirmedEvent{
			GroupID: groupID, Amount: 1000, Channel: "CHECKOUT",
		}))
		if !ack {
			t.Fatal("expected an unknown-group event to be dropped")
		}
	})

	t.Run("invalid channel", func(t *testing.T) {
		repo := &workflowRepoStub{group: &domain.Group{ID: groupID, ApprovalsRequired: 1}}
		consumer := NewPaymentEventConsumer(NewService(repo, &publisherStub{}, 5, 900))
		ack := consumer.HandleMessage(marshalPaymentEvent(t, domain.PaymentConfirmedEvent{
			GroupID: groupID, Amount: 1000, Channel: "CASH",
		}))
		if !ack {
			t.Fatal("expected an invalid-channel event to be dropped")
		}
	})
}

func TestPaymentEventConsumer_RequeuesTransientFailures(t *testing.T) {
	groupID := uuid.New()
	repo := &workflowRepoStub{
		group:     &domain.Group{ID: groupID, ApprovalsRequired: 1},
		creditErr: errors.New("connection refused"),
	}
	consumer := NewPaymentEventConsumer(NewService(repo, &publisherStub{}, 5, 900))

	ack := consumer.HandleMessage(marshalPaymentEvent(t, domain.PaymentConfirmedEvent{
		GroupID: groupID, Amount: 1000, Channel: "CHECKOUT",
	}))
	if ack {
		t.Fatal("expected a transient failure to be re-queued")
	}
}
