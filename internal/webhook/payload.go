package webhook

import (
	"encoding/json"
	"fmt"
)

// OrderEvent is the subset of the commerce platform's order payload
// the issuance path consumes.
type OrderEvent struct {
	ID        json.Number `json:"id"`
	Email     string      `json:"email"`
	Customer  Customer    `json:"customer"`
	LineItems []LineItem  `json:"line_items"`
}

// Customer carries the purchaser's identity from the order payload.
type Customer struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
}

// LineItem is a purchased product line.
type LineItem struct {
	Name string `json:"name"`
}

// ParseOrderEvent decodes an order payload.
func ParseOrderEvent(raw []byte) (*OrderEvent, error) {
	var event OrderEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("decoding order event: %w", err)
	}
	return &event, nil
}

// OrderID returns the order identifier as a string.
func (e *OrderEvent) OrderID() string {
	return e.ID.String()
}

// CustomerEmail returns the top-level email, falling back to the
// nested customer object.
func (e *OrderEvent) CustomerEmail() string {
	if e.Email != "" {
		return e.Email
	}
	return e.Customer.Email
}

// CustomerName returns the customer's first name, or "Customer" when
// the payload omits it.
func (e *OrderEvent) CustomerName() string {
	if e.Customer.FirstName != "" {
		return e.Customer.FirstName
	}
	return "Customer"
}

// ProductName returns the first line item's name, or fallback when the
// order has no line items.
func (e *OrderEvent) ProductName(fallback string) string {
	if len(e.LineItems) > 0 && e.LineItems[0].Name != "" {
		return e.LineItems[0].Name
	}
	return fallback
}

// HasOrderID reports whether the payload carried a usable order id.
func (e *OrderEvent) HasOrderID() bool {
	s := e.ID.String()
	return s != "" && s != "null"
}
