package issue

// Result is the outcome of a lifecycle operation: the operation either
// applied a change, found nothing to change, or failed with a reason.
type Result struct {
	kind   resultKind
	reason string
}

type resultKind int

const (
	kindSuccess resultKind = iota
	kindNoChange
	kindFailure
)

func Success() Result { return Result{kind: kindSuccess} }

func NoChange() Result { return Result{kind: kindNoChange} }

func Failure(reason string) Result { return Result{kind: kindFailure, reason: reason} }

// Ok reports whether the operation applied a change.
func (r Result) Ok() bool { return r.kind == kindSuccess }

// IsNoChange reports whether the operation was a no-op.
func (r Result) IsNoChange() bool { return r.kind == kindNoChange }

// Failed reports whether the operation failed.
func (r Result) Failed() bool { return r.kind == kindFailure }

// Reason returns the failure reason, empty unless Failed.
func (r Result) Reason() string { return r.reason }

func (r Result) String() string {
	switch r.kind {
	case kindSuccess:
		return "success"
	case kindNoChange:
		return "no change"
	default:
		return "failure: " + r.reason
	}
}
