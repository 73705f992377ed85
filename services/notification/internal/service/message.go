package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/sakashimaa/go-order-management/pkg/events"
	"github.com/sakashimaa/go-order-management/services/notification/internal/domain"
)

func confirmationSubject(event events.OrderCreatedEvent) string {
	return fmt.Sprintf("Order Confirmation - Order ID: %s", event.OrderID)
}

func confirmationBody(event events.OrderCreatedEvent) string {
	var products strings.Builder
	for _, p := range event.OrderProducts {
		title := p.ProductTitle
		if title == "" {
			title = events.UnknownProductTitle
		}
		fmt.Fprintf(&products, "- %s (Qty: %d)\n", title, p.Quantity)
	}

	return fmt.Sprintf(`Hi,

Your order has been successfully created!

Order Details:
Order ID: %s
Order Date: %s
Customer ID: %s

Products Ordered:
%s
Thank you for shopping with us!

Best regards,
Order Management Team
`,
		event.OrderID,
		event.OrderDate.UTC().Format(time.RFC3339),
		event.CustomerID,
		products.String(),
	)
}

// NewConfirmationEmail renders the order confirmation for the customer.
func NewConfirmationEmail(event events.OrderCreatedEvent) domain.Email {
	return domain.Email{
		To:      event.CustomerEmail,
		Subject: confirmationSubject(event),
		Body:    confirmationBody(event),
	}
}
