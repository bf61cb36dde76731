package cycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/solmeal/internal/backend"
	"github.com/roach88/solmeal/internal/cluster"
	"github.com/roach88/solmeal/internal/snapshot"
	"github.com/roach88/solmeal/internal/store"
)

// ErrCycleInProgress is returned by Trigger.Fire when the campus already has
// a cycle running. The trigger is dropped, not queued.
var ErrCycleInProgress = errors.New("cycle already in progress")

// ErrorCode categorizes cycle and query failures.
type ErrorCode string

const (
	// ErrCodeValidation indicates malformed caller input. Nothing was mutated.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeUpstreamUnavailable indicates a collaborator was unreachable or
	// answered with a malformed response.
	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"

	// ErrCodeEmptyCandidateSet indicates no candidate survived filtering.
	ErrCodeEmptyCandidateSet ErrorCode = "EMPTY_CANDIDATE_SET"

	// ErrCodeInvalidRunState indicates activation of a run that is neither
	// draft nor active, or belongs to another campus.
	ErrCodeInvalidRunState ErrorCode = "INVALID_RUN_STATE"

	// ErrCodeCacheWarmupIncomplete indicates a warmup batch failed. The run
	// and its membership are kept; activation was withheld.
	ErrCodeCacheWarmupIncomplete ErrorCode = "CACHE_WARMUP_INCOMPLETE"

	// ErrCodeCachePointerFlip indicates the run is durably active but the
	// cache pointer still names the previous run. Re-activating repairs it.
	ErrCodeCachePointerFlip ErrorCode = "CACHE_POINTER_FLIP"
)

// Error is a classified cycle failure.
type Error struct {
	Code    ErrorCode
	Message string

	// CampusID and RunID locate the failure. RunID is zero when no draft was
	// created.
	CampusID int64
	RunID    int64
	CycleID  string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.CampusID != 0 && e.RunID != 0 {
		msg = fmt.Sprintf("%s (campus=%d, run=%d)", msg, e.CampusID, e.RunID)
	} else if e.CampusID != 0 {
		msg = fmt.Sprintf("%s (campus=%d)", msg, e.CampusID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Validationf returns a VALIDATION error.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsValidation reports whether err is a VALIDATION error.
// Uses errors.As to handle wrapped errors.
func IsValidation(err error) bool { return CodeOf(err) == ErrCodeValidation }

// IsUpstreamUnavailable reports whether err is an UPSTREAM_UNAVAILABLE error.
func IsUpstreamUnavailable(err error) bool { return CodeOf(err) == ErrCodeUpstreamUnavailable }

// IsEmptyCandidateSet reports whether err is an EMPTY_CANDIDATE_SET error.
func IsEmptyCandidateSet(err error) bool { return CodeOf(err) == ErrCodeEmptyCandidateSet }

// IsInvalidRunState reports whether err is an INVALID_RUN_STATE error.
func IsInvalidRunState(err error) bool { return CodeOf(err) == ErrCodeInvalidRunState }

// IsCacheWarmupIncomplete reports whether err is a CACHE_WARMUP_INCOMPLETE error.
func IsCacheWarmupIncomplete(err error) bool { return CodeOf(err) == ErrCodeCacheWarmupIncomplete }

// Classify wraps err in an *Error when one of the lower layers' sentinel
// errors is in its chain. Other errors, cancellation included, are returned
// with only the stage prefix added.
func Classify(stage string, campusID, runID int64, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}

	var code ErrorCode
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", stage, err)
	case errors.Is(err, backend.ErrUpstream):
		code = ErrCodeUpstreamUnavailable
	case errors.Is(err, cluster.ErrEmptyCandidates):
		code = ErrCodeEmptyCandidateSet
	case errors.Is(err, store.ErrInvalidRunState), errors.Is(err, store.ErrCampusMismatch):
		code = ErrCodeInvalidRunState
	case errors.Is(err, snapshot.ErrWarmupIncomplete):
		code = ErrCodeCacheWarmupIncomplete
	case errors.Is(err, snapshot.ErrPointerFlip):
		code = ErrCodeCachePointerFlip
	default:
		return fmt.Errorf("%s: %w", stage, err)
	}
	return &Error{Code: code, Message: stage + " failed", CampusID: campusID, RunID: runID, Err: err}
}
