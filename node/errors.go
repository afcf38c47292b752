package node

import "fmt"

// ErrorKind is the node-level counterpart of consensus.ErrorKind, covering
// failures that originate above the consensus package (mempool, peer
// handling, storage). See spec.md §7.
type ErrorKind string

const (
	ErrStructural      ErrorKind = "Structural"
	ErrPolicyViolation ErrorKind = "PolicyViolation"
	ErrInconsistency   ErrorKind = "Inconsistency"
	ErrResource        ErrorKind = "Resource"
	ErrTransient       ErrorKind = "Transient"
	ErrFatal           ErrorKind = "Fatal"
)

// NodeError is the typed error returned across component boundaries, per
// spec.md §7's propagation policy.
type NodeError struct {
	Kind ErrorKind
	Code string
	Msg  string
}

func (e *NodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s(%s)", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s(%s): %s", e.Kind, e.Code, e.Msg)
}

func newNodeErr(kind ErrorKind, code, msg string) *NodeError {
	return &NodeError{Kind: kind, Code: code, Msg: msg}
}

// RPCCode maps a NodeError to one of the stable string codes spec.md §7
// requires external RPC surfaces to expose.
func (e *NodeError) RPCCode() string {
	if e == nil {
		return "internal_error"
	}
	switch e.Code {
	case CodeInvalidAddress:
		return "invalid_address"
	case CodeInsufficientBalance:
		return "insufficient_balance"
	case CodeTransactionNotFound:
		return "transaction_not_found"
	case CodeInvalidSignature:
		return "invalid_signature"
	case CodeBadRequest:
		return "bad_request"
	default:
		return "internal_error"
	}
}

// RPC-facing codes from spec.md §7.
const (
	CodeInvalidAddress      = "invalid_address"
	CodeInsufficientBalance = "insufficient_balance"
	CodeTransactionNotFound = "transaction_not_found"
	CodeInvalidSignature    = "invalid_signature"
	CodeBadRequest          = "bad_request"

	// Internal codes used between components.
	CodeNotFound        = "NOT_FOUND"
	CodeAlreadyLocked   = "ALREADY_LOCKED"
	CodeStateDiverged   = "STATE_DIVERGED"
	CodeConflict        = "CONFLICT"
	CodeMempoolFull     = "MEMPOOL_FULL"
	CodeUnknownInput    = "UNKNOWN_INPUT"
	CodeBadSignature    = "BAD_SIGNATURE"
	CodeBadStructure    = "BAD_STRUCTURE"
	CodeInsufficientFee = "INSUFFICIENT_FEE"
)
