package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("record not found in cart")
	ErrNoSelection       = errors.New("no order selected")
	ErrTransportFailure  = errors.New("transport failure")
	ErrPartialCheckout   = errors.New("order created but cart was not cleared")
	ErrNegativeQuantity  = errors.New("quantity would go below zero")
	ErrInvalidQuantity   = errors.New("quantity must be a positive integer")
	ErrInvalidDirection  = errors.New("direction must be increment or decrement")
	ErrIllegalTransition = errors.New("illegal transition of checkout status")
)

// TransportError is returned when the store or a remote service could not be reached
// or answered with a non-success status.
type TransportError struct {
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Detail)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransportFailure }

// Message is the text shown to the user.
func (e *TransportError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s failed with status %d", e.Op, e.Status)
}

// PartialCheckoutError reports that an order exists remotely but the cart clear
// failed. It does not unwrap to Cause so it never matches ErrTransportFailure.
type PartialCheckoutError struct {
	CheckoutID string
	OrderID    string
	Cause      error
}

func (e *PartialCheckoutError) Error() string {
	return fmt.Sprintf("checkout %s: order %q created but cart clear failed: %v", e.CheckoutID, e.OrderID, e.Cause)
}

func (e *PartialCheckoutError) Is(target error) bool { return target == ErrPartialCheckout }

// UserMessage converts any core error into the text shown to the user.
func UserMessage(err error) string {
	var te *TransportError
	var pe *PartialCheckoutError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return "Your order was placed, but the cart could not be cleared yet. It will be cleared shortly."
	case errors.Is(err, ErrNoSelection):
		return "No Order Selected"
	case errors.As(err, &te):
		return te.Message()
	default:
		return err.Error()
	}
}
