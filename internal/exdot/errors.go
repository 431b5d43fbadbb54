package exdot

import "errors"

// Errors returned while building a plan. They are reported before any term
// is accumulated.
var (
	ErrNoOperands        = errors.New("exdot: missing operand")
	ErrArity             = errors.New("exdot: unsupported operand count")
	ErrLengthMismatch    = errors.New("exdot: operand lengths differ")
	ErrDomainMismatch    = errors.New("exdot: incompatible execution domains")
	ErrGroupMismatch     = errors.New("exdot: distributed operands bound to different groups")
	ErrLayoutMismatch    = errors.New("exdot: incompatible operand layouts")
	ErrPrecisionMismatch = errors.New("exdot: mixed container precisions")
	ErrShapeMismatch     = errors.New("exdot: recursive operands differ in element count")
	ErrRows              = errors.New("exdot: invalid row count")
)
