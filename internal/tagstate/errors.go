package tagstate

import "errors"

// Corruption-class errors a Machine's Dispatch can return, per the
// invariant violations spec section 4.3's dispatch table calls out.
var (
	ErrUnknownTagInstruction = errors.New("tagstate: unknown tag instruction")
	ErrAlreadyOpen           = errors.New("tagstate: tag already open")
	ErrStopWithoutOpen       = errors.New("tagstate: stop without matching open")
	ErrTaskOutsideContainer  = errors.New("tagstate: task tag opened without an enclosing container")
	ErrTaskStopInvalid       = errors.New("tagstate: stop is invalid for a task tag")
)
