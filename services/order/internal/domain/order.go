package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/go-order-management/pkg/events"
)

type Order struct {
	ID         uuid.UUID   `db:"id" json:"id"`
	CustomerID uuid.UUID   `db:"customer_id" json:"customer_id"`
	OrderDate  time.Time   `db:"order_date" json:"order_date"`
	Lines      []OrderLine `db:"-" json:"order_products"`

	// CustomerEmail is captured at creation time for the order event.
	CustomerEmail string `db:"-" json:"-"`
}

// OrderLine keeps a title snapshot so the line stays readable after the
// product is deleted, at which point ProductID becomes nil.
type OrderLine struct {
	ID           uuid.UUID  `db:"id" json:"-"`
	OrderID      uuid.UUID  `db:"order_id" json:"-"`
	ProductID    *uuid.UUID `db:"product_id" json:"product_id"`
	ProductTitle string     `db:"product_title" json:"product_title"`
	Quantity     int32      `db:"quantity" json:"quantity"`
}

type OrderLineInput struct {
	ProductID uuid.UUID
	Quantity  int32
}

type CreateOrderInput struct {
	CustomerID uuid.UUID
	Lines      []OrderLineInput
}

// TotalQuantity sums the line quantities.
func (o *Order) TotalQuantity() int64 {
	var total int64
	for _, line := range o.Lines {
		total += int64(line.Quantity)
	}
	return total
}

func (o *Order) ToCreatedEvent() events.OrderCreatedEvent {
	products := make([]events.OrderProductEvent, 0, len(o.Lines))
	for _, line := range o.Lines {
		products = append(products, line.toEvent())
	}

	return events.OrderCreatedEvent{
		OrderID:       o.ID,
		CustomerID:    o.CustomerID,
		CustomerEmail: o.CustomerEmail,
		OrderDate:     o.OrderDate,
		OrderProducts: products,
	}
}

func (l OrderLine) toEvent() events.OrderProductEvent {
	title := l.ProductTitle
	if l.ProductID == nil || title == "" {
		title = events.UnknownProductTitle
	}

	return events.OrderProductEvent{
		ProductID:    l.ProductID,
		ProductTitle: title,
		Quantity:     l.Quantity,
	}
}
