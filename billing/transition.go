/*
transition.go - The lifecycle state machine

The whole machine is one table. States are the last recorded operation
type (or none); the transition fires on the incoming type.

  last     | allowed next
  ---------+--------------
  (none)   | start
  start    | suspend, end
  suspend  | resume
  resume   | suspend, end
  end      | start

Validation is pure: no lookups, no side effects. It must run before any
persistence on the append path.
*/
package billing

// allowedLast maps an incoming operation type to the set of last types it
// may follow. OpStart additionally follows "no prior operation", handled
// explicitly in ValidateTransition.
var allowedLast = map[OperationType][]OperationType{
	OpStart:   {OpEnd},
	OpSuspend: {OpStart, OpResume},
	OpResume:  {OpSuspend},
	OpEnd:     {OpStart, OpResume},
}

// ValidateTransition decides whether next is legal given the last recorded
// operation type. last is nil when the (client, service) pair has no history.
func ValidateTransition(last *OperationType, next OperationType) error {
	allowed, ok := allowedLast[next]
	if !ok {
		return &InvalidTransitionError{Last: last, Next: next}
	}
	if last == nil {
		if next == OpStart {
			return nil
		}
		return &InvalidTransitionError{Last: nil, Next: next}
	}
	for _, t := range allowed {
		if *last == t {
			return nil
		}
	}
	return &InvalidTransitionError{Last: last, Next: next}
}

// ValidateAppend runs the full pre-persistence check for a new operation:
// strictly increasing date first, then the transition table. last is nil for
// a fresh lifecycle.
func ValidateAppend(last *Operation, next OperationType, date Date) error {
	if last != nil && !date.After(last.Date) {
		return &NonMonotonicDateError{LastDate: last.Date, NewDate: date}
	}
	var lastType *OperationType
	if last != nil {
		lastType = &last.Type
	}
	return ValidateTransition(lastType, next)
}
