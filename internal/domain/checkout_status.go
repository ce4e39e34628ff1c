package domain

type CheckoutStatus string

const (
	CheckoutStatusIdle               CheckoutStatus = "IDLE"
	CheckoutStatusSubmitting         CheckoutStatus = "SUBMITTING"
	CheckoutStatusOrderCreated       CheckoutStatus = "ORDER_CREATED"
	CheckoutStatusClearingCart       CheckoutStatus = "CLEARING_CART"
	CheckoutStatusCompleted          CheckoutStatus = "COMPLETED"
	CheckoutStatusPartiallyCompleted CheckoutStatus = "PARTIALLY_COMPLETED"
	CheckoutStatusFailed             CheckoutStatus = "FAILED"

	// NeedsReconciliation marks a submission whose outcome is unknown: the order
	// may exist remotely but no ORDER_CREATED marker was ever recorded.
	CheckoutStatusNeedsReconciliation CheckoutStatus = "NEEDS_RECONCILIATION"
)

var transitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutStatusIdle:               {CheckoutStatusSubmitting},
	CheckoutStatusSubmitting:         {CheckoutStatusOrderCreated, CheckoutStatusFailed, CheckoutStatusNeedsReconciliation},
	CheckoutStatusOrderCreated:       {CheckoutStatusClearingCart},
	CheckoutStatusClearingCart:       {CheckoutStatusCompleted, CheckoutStatusPartiallyCompleted},
	CheckoutStatusPartiallyCompleted: {CheckoutStatusClearingCart},
}

func CanTransitionTo(from, to CheckoutStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s CheckoutStatus) IsTerminal() bool {
	return s == CheckoutStatusCompleted || s == CheckoutStatusFailed || s == CheckoutStatusNeedsReconciliation
}

// OrderPlaced reports whether an order exists remotely for a session in this status.
func (s CheckoutStatus) OrderPlaced() bool {
	switch s {
	case CheckoutStatusOrderCreated, CheckoutStatusClearingCart,
		CheckoutStatusCompleted, CheckoutStatusPartiallyCompleted:
		return true
	}
	return false
}

// String representation (for logging)
func (s CheckoutStatus) String() string {
	return string(s)
}
