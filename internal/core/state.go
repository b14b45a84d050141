package core

// RequestState tracks a gateway request through routing.
type RequestState int

const (
	StateReceived RequestState = iota
	StateValidated
	StateAuthorized
	StateInstanceSelected
	StateForwarded
	StateCompleted
	StateRejected
	StateFailed
)

var requestStateNames = [...]string{
	StateReceived:         "received",
	StateValidated:        "validated",
	StateAuthorized:       "authorized",
	StateInstanceSelected: "instance_selected",
	StateForwarded:        "forwarded",
	StateCompleted:        "completed",
	StateRejected:         "rejected",
	StateFailed:           "failed",
}

// String returns the string representation of the state
func (s RequestState) String() string {
	if s < 0 || int(s) >= len(requestStateNames) {
		return "unknown"
	}
	return requestStateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s RequestState) Terminal() bool {
	return s == StateCompleted || s == StateRejected || s == StateFailed
}
