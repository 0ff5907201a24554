package stream

// InsufficientCreditsMessage is the exact error text the billing service
// sends when the tenant's balance is exhausted.
const InsufficientCreditsMessage = "Insufficient credits"

// Error is the payload of a terminal error frame. CurrentCredits is present
// only on the insufficient-credits business error.
type Error struct {
	Message        string `json:"error"`
	CurrentCredits *int   `json:"current_credits,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// InsufficientCredits reports whether this is the billing service's
// credit-exhaustion shape rather than a generic transport failure.
func (e *Error) InsufficientCredits() bool {
	return e.Message == InsufficientCreditsMessage
}

func genericError() *Error {
	return &Error{Message: "stream connection failed"}
}
