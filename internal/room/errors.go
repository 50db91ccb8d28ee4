package room

// ValidationError reports an operation rejected before any state mutation:
// an unbound connection sending a message, or text that is empty or over
// length after trimming. The transport layer converts it into an error
// envelope for the offending client only.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "room: validation failed: " + e.Reason
}
