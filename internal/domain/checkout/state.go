package checkout

// State is a stage of the checkout flow.
type State int

const (
	// Idle means no checkout is in progress.
	Idle State = iota
	// FormEntry collects customer and address details.
	FormEntry
	// AwaitingPayment holds a card draft until the processor authorizes it.
	AwaitingPayment
	// Submitting means the draft is being sent to the order backend.
	Submitting
	// Confirmed is terminal: the backend accepted the order.
	Confirmed
	// Aborted is terminal: the user cancelled the checkout.
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FormEntry:
		return "form_entry"
	case AwaitingPayment:
		return "awaiting_payment"
	case Submitting:
		return "submitting"
	case Confirmed:
		return "confirmed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// active reports whether s is a state a user can cancel out of.
func (s State) active() bool {
	return s == FormEntry || s == AwaitingPayment || s == Submitting
}
