package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kursadbilgin/courier/internal/domain"
	"github.com/kursadbilgin/courier/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type recordingAcknowledger struct {
	acked    int
	nacked   int
	rejected int
	requeue  bool
}

func (a *recordingAcknowledger) Ack(uint64, bool) error {
	a.acked++
	return nil
}

func (a *recordingAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *recordingAcknowledger) Reject(_ uint64, requeue bool) error {
	a.rejected++
	a.requeue = requeue
	return nil
}

func TestHandleDelivery(t *testing.T) {
	validBody := []byte(`{"channel":"EMAIL","to":["alice@example.com"],"subject":"hi"}`)

	tests := []struct {
		name         string
		body         []byte
		handlerErr   error
		wantAcked    int
		wantNacked   int
		wantRejected int
		wantCalled   bool
	}{
		{name: "valid message is acked", body: validBody, wantAcked: 1, wantCalled: true},
		{name: "invalid json is rejected", body: []byte(`{`), wantRejected: 1},
		{name: "missing recipients is rejected", body: []byte(`{"channel":"EMAIL"}`), wantRejected: 1},
		{name: "validation failure is rejected", body: validBody, handlerErr: fmt.Errorf("wrap: %w", domain.ErrValidation), wantRejected: 1, wantCalled: true},
		{name: "other failure is requeued", body: validBody, handlerErr: errors.New("boom"), wantNacked: 1, wantCalled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &recordingAcknowledger{}
			c := NewRabbitMQConsumer(nil, 1, zap.NewNop())

			called := false
			handler := func(_ context.Context, msg DeliveryMessage) error {
				called = true
				if msg.Request().To[0] != "alice@example.com" {
					t.Fatalf("unexpected recipient %v", msg.To)
				}
				return tt.handlerErr
			}

			err := c.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: tt.body}, handler)
			if err != nil {
				t.Fatalf("handleDelivery() unexpected error: %v", err)
			}

			if called != tt.wantCalled {
				t.Fatalf("handler called = %v, want %v", called, tt.wantCalled)
			}
			if ack.acked != tt.wantAcked || ack.nacked != tt.wantNacked || ack.rejected != tt.wantRejected {
				t.Fatalf("ack/nack/reject = %d/%d/%d, want %d/%d/%d",
					ack.acked, ack.nacked, ack.rejected, tt.wantAcked, tt.wantNacked, tt.wantRejected)
			}
			if tt.wantNacked > 0 && !ack.requeue {
				t.Fatal("expected nack to requeue")
			}
			if tt.wantRejected > 0 && ack.requeue {
				t.Fatal("expected reject without requeue")
			}
		})
	}
}

func TestHandleDeliveryPropagatesCorrelationID(t *testing.T) {
	ack := &recordingAcknowledger{}
	c := NewRabbitMQConsumer(nil, 1, zap.NewNop())

	var got string
	handler := func(ctx context.Context, msg DeliveryMessage) error {
		got, _ = observability.CorrelationIDFromContext(ctx)
		if msg.CorrelationID != "corr-9" {
			t.Fatalf("message correlation id = %q, want corr-9", msg.CorrelationID)
		}
		return nil
	}

	body := []byte(`{"channel":"EMAIL","to":["alice@example.com"],"subject":"hi"}`)
	err := c.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: body, CorrelationId: "corr-9"}, handler)
	if err != nil {
		t.Fatalf("handleDelivery() unexpected error: %v", err)
	}
	if got != "corr-9" {
		t.Fatalf("context correlation id = %q, want corr-9", got)
	}
}
