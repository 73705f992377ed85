package tests

import (
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/go-order-management/pkg/events"
	outboxDomain "github.com/sakashimaa/go-order-management/pkg/outbox/domain"
)

// Rows left unpublished after commit, for example when the broker was down
// for the in-line publish, are sent by the relay.
func (s *IntegrationTestSuite) TestOutboxRelay_PublishesPendingRows() {
	orderID := uuid.New()
	payload, err := events.NewEnvelope(events.EventTypeOrderCreated, events.OrderCreatedEvent{
		OrderID:       orderID,
		CustomerID:    uuid.New(),
		CustomerEmail: "buyer@example.com",
		OrderDate:     time.Now().UTC(),
	})
	s.Require().NoError(err)

	event := &outboxDomain.OutboxEvent{
		AggregateType: "Order",
		AggregateID:   orderID.String(),
		EventType:     events.EventTypeOrderCreated,
		Payload:       payload,
		Topic:         events.TopicOrderEvents,
	}
	s.Require().NoError(s.OutboxRepo.SaveOutboxEvent(s.Ctx, s.DbPool, event))
	s.Require().NotZero(event.Id)

	s.Require().Eventually(func() bool {
		var publishedAt *time.Time

		err := s.DbPool.QueryRow(s.Ctx, "SELECT published_at FROM outbox WHERE id = $1", event.Id).Scan(&publishedAt)
		return err == nil && publishedAt != nil
	}, 15*time.Second, 200*time.Millisecond)
}
