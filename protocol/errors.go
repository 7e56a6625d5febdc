package protocol

import "fmt"

type ErrorCode string

const (
	STEP_ERR_EMPTY_BATCH ErrorCode = "STEP_ERR_EMPTY_BATCH"
	STEP_ERR_INDEX_GAP   ErrorCode = "STEP_ERR_INDEX_GAP"
	STEP_ERR_EMPTY_INPUT ErrorCode = "STEP_ERR_EMPTY_INPUT"

	TREE_ERR_EMPTY_STEP_CHAIN ErrorCode = "TREE_ERR_EMPTY_STEP_CHAIN"
	TREE_ERR_POLICY_INVALID   ErrorCode = "TREE_ERR_POLICY_INVALID"
	TREE_ERR_BRANCH_COLLISION ErrorCode = "TREE_ERR_BRANCH_COLLISION"

	CLAIM_ERR_INVALID ErrorCode = "CLAIM_ERR_INVALID"

	TPL_ERR_NO_MATCHING_BRANCH ErrorCode = "TPL_ERR_NO_MATCHING_BRANCH"
	TPL_ERR_PARSE              ErrorCode = "TPL_ERR_PARSE"

	EVENT_ERR_STALE ErrorCode = "EVENT_ERR_STALE"

	BLOCK_ERR_PARSE         ErrorCode = "BLOCK_ERR_PARSE"
	BLOCK_ERR_ROOT_MISMATCH ErrorCode = "BLOCK_ERR_ROOT_MISMATCH"
)

type DisputeError struct {
	Code ErrorCode
	Msg  string
}

func (e *DisputeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func derr(code ErrorCode, msg string) error {
	return &DisputeError{Code: code, Msg: msg}
}

// NewError builds a coded error for packages layering on the protocol core.
func NewError(code ErrorCode, msg string) error {
	return derr(code, msg)
}

// CodeOf extracts the ErrorCode from err, or "" for foreign errors.
func CodeOf(err error) ErrorCode {
	if de, ok := err.(*DisputeError); ok && de != nil {
		return de.Code
	}
	return ""
}
