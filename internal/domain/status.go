package domain

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingAccepted  BookingStatus = "ACCEPTED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingRejected  BookingStatus = "REJECTED"
	BookingNoShow    BookingStatus = "NO_SHOW"
)

// bookingTransitions is the full current-state x incoming-state table.
// Terminal states win over non-terminal ones regardless of arrival order,
// so every terminal state is reachable from both non-terminal states.
var bookingTransitions = map[BookingStatus]map[BookingStatus]bool{
	BookingPending: {
		BookingAccepted:  true,
		BookingCompleted: true,
		BookingCancelled: true,
		BookingRejected:  true,
		BookingNoShow:    true,
	},
	BookingAccepted: {
		BookingCompleted: true,
		BookingCancelled: true,
		BookingRejected:  true,
		BookingNoShow:    true,
	},
	BookingCompleted: {},
	BookingCancelled: {},
	BookingRejected:  {},
	BookingNoShow:    {},
}

func (s BookingStatus) Valid() bool {
	_, ok := bookingTransitions[s]
	return ok
}

func (s BookingStatus) Terminal() bool {
	next, ok := bookingTransitions[s]
	return ok && len(next) == 0
}

// NextBookingStatus resolves an incoming status against the current one.
// Redelivery of the current status is a no-op. A non-terminal status
// arriving after a terminal one is stale out-of-order delivery and is
// dropped, keeping the terminal state. Terminal-to-terminal changes are a
// bug and are rejected.
func NextBookingStatus(current, incoming BookingStatus) (BookingStatus, bool, error) {
	if !incoming.Valid() {
		return current, false, &MalformedWebhookError{Reason: "unknown booking status " + string(incoming)}
	}
	if incoming == current {
		return current, false, nil
	}
	if bookingTransitions[current][incoming] {
		return incoming, true, nil
	}
	if current.Terminal() && !incoming.Terminal() {
		return current, false, nil
	}
	return current, false, &InvariantViolationError{
		Msg: "illegal booking transition " + string(current) + " -> " + string(incoming),
	}
}

type PaymentStatus string

const (
	PaymentPending     PaymentStatus = "PENDING"
	PaymentProcessing  PaymentStatus = "PROCESSING"
	PaymentSucceeded   PaymentStatus = "SUCCEEDED"
	PaymentFailed      PaymentStatus = "FAILED"
	PaymentDisputed    PaymentStatus = "DISPUTED"
	PaymentRefunded    PaymentStatus = "REFUNDED"
	PaymentTransferred PaymentStatus = "TRANSFERRED"
)

// paymentTransitions allows PROCESSING to be skipped because the processor
// may deliver a terminal intent event before (or instead of) the
// intermediate one.
var paymentTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending: {
		PaymentProcessing: true,
		PaymentSucceeded:  true,
		PaymentFailed:     true,
	},
	PaymentProcessing: {
		PaymentSucceeded: true,
		PaymentFailed:    true,
	},
	PaymentSucceeded: {
		PaymentDisputed:    true,
		PaymentRefunded:    true,
		PaymentTransferred: true,
	},
	PaymentFailed:      {},
	PaymentDisputed:    {},
	PaymentRefunded:    {},
	PaymentTransferred: {},
}

func (s PaymentStatus) Valid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

// NextPaymentStatus mirrors NextBookingStatus for the settlement pipeline.
func NextPaymentStatus(current, incoming PaymentStatus) (PaymentStatus, bool, error) {
	if !incoming.Valid() {
		return current, false, &MalformedWebhookError{Reason: "unknown payment status " + string(incoming)}
	}
	if incoming == current {
		return current, false, nil
	}
	if paymentTransitions[current][incoming] {
		return incoming, true, nil
	}
	// A stale PROCESSING after SUCCEEDED/FAILED is out-of-order delivery.
	if len(paymentTransitions[current]) == 0 || current == PaymentSucceeded {
		if incoming == PaymentProcessing || incoming == PaymentPending {
			return current, false, nil
		}
	}
	return current, false, &InvariantViolationError{
		Msg: "illegal payment transition " + string(current) + " -> " + string(incoming),
	}
}
