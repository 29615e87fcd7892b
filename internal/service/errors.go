package service

import (
	"errors"
	"fmt"
)

// Kind 에러 분류. HTTP/웹소켓 계층은 Kind로 응답 코드를 정한다.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindRateLimited
	KindExternalDependency
	KindInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindExternalDependency:
		return "external_dependency"
	case KindInvariantViolation:
		return "invariant_violation"
	}
	return "unknown"
}

// Error 분류와 외부 노출용 코드를 가진 sentinel 에러
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// KindOf err 체인에서 분류를 찾는다
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf err 체인에서 외부 노출용 코드를 찾는다
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}

// Validation errors
var (
	ErrInvalidCategory    = newError(KindValidation, "invalid_category", "unknown match category")
	ErrInvalidPreferences = newError(KindValidation, "invalid_preferences", "invalid queue preferences")
	ErrInvalidCode        = newError(KindValidation, "invalid_code", "invalid code")
	ErrInvalidCommand     = newError(KindValidation, "invalid_command", "invalid command")
)

// Queue / match state conflicts
var (
	ErrAlreadyQueued         = newError(KindConflict, "already_queued", "player is already queued")
	ErrAlreadyInMatch        = newError(KindConflict, "already_in_match", "player is already in an active match")
	ErrMatchNotWaiting       = newError(KindConflict, "match_not_waiting", "match lobby is closed")
	ErrMatchNotInProgress    = newError(KindConflict, "match_not_in_progress", "match is not in progress")
	ErrMatchAlreadyConcluded = newError(KindConflict, "match_already_concluded", "match already concluded")
	ErrNotParticipant        = newError(KindConflict, "not_participant", "player is not a participant of this match")
	ErrLobbyFull             = newError(KindConflict, "lobby_full", "match lobby is full")
	ErrScoringInProgress     = newError(KindConflict, "scoring_in_progress", "match is being scored elsewhere")
)

// Lookups
var (
	ErrMatchNotFound      = newError(KindNotFound, "match_not_found", "match not found")
	ErrSubmissionNotFound = newError(KindNotFound, "submission_not_found", "submission not found")
	ErrProblemNotFound    = newError(KindNotFound, "problem_not_found", "problem not found")
)

var ErrRateLimited = newError(KindRateLimited, "rate_limited", "too many submissions")

// External dependency failures
var (
	ErrExternalDependency = newError(KindExternalDependency, "dependency_failure", "external dependency failed")
	ErrNoProblemAvailable = newError(KindExternalDependency, "no_problem_available", "no eligible problem available")
	ErrScoringFailed      = newError(KindExternalDependency, "scoring_failed", "post-match update failed")
)

var ErrInvariantViolation = newError(KindInvariantViolation, "invariant_violation", "invariant violation")

// external 저장소/채점기 에러를 분류된 에러로 감싼다
func external(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalDependency, op, err)
}
