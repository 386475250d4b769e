package repository

// Outcome is the result of a conditional write that did not hit a store error.
type Outcome int

const (
	// Applied means the precondition held and the mutation was written.
	Applied Outcome = iota
	// PreconditionFailed means the store evaluated the guard as false and wrote nothing.
	PreconditionFailed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case PreconditionFailed:
		return "precondition_failed"
	default:
		return "unknown"
	}
}
