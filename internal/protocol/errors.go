package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode is the numeric result code returned with every response.
type ErrorCode int

// Result codes. Negative values are generic failures, the 327xx range is
// room and matchmaking specific.
const (
	Ok                                ErrorCode = 0
	InternalServerError               ErrorCode = -1
	InvalidOperation                  ErrorCode = -2
	OperationNotAllowedInCurrentState ErrorCode = -3
	InvalidRequestParameters          ErrorCode = -6

	GameIDAlreadyExists            ErrorCode = 32766
	GameFull                       ErrorCode = 32765
	GameClosed                     ErrorCode = 32764
	NoRandomMatchFound             ErrorCode = 32760
	GameDoesNotExist               ErrorCode = 32758
	JoinFailedPeerAlreadyJoined    ErrorCode = 32750
	JoinFailedFoundInactiveJoiner  ErrorCode = 32749
	JoinFailedWithRejoinerNotFound ErrorCode = 32748
	JoinFailedFoundExcludedUserID  ErrorCode = 32747
	JoinFailedFoundActiveJoiner    ErrorCode = 32746
	SlotError                      ErrorCode = 32742
	EventCacheExceeded             ErrorCode = 32739
)

var codeNames = map[ErrorCode]string{
	Ok:                                "Ok",
	InternalServerError:               "InternalServerError",
	InvalidOperation:                  "InvalidOperation",
	OperationNotAllowedInCurrentState: "OperationNotAllowedInCurrentState",
	InvalidRequestParameters:          "InvalidRequestParameters",
	GameIDAlreadyExists:               "GameIdAlreadyExists",
	GameFull:                          "GameFull",
	GameClosed:                        "GameClosed",
	NoRandomMatchFound:                "NoRandomMatchFound",
	GameDoesNotExist:                  "GameDoesNotExist",
	JoinFailedPeerAlreadyJoined:       "JoinFailedPeerAlreadyJoined",
	JoinFailedFoundInactiveJoiner:     "JoinFailedFoundInactiveJoiner",
	JoinFailedWithRejoinerNotFound:    "JoinFailedWithRejoinerNotFound",
	JoinFailedFoundExcludedUserID:     "JoinFailedFoundExcludedUserId",
	JoinFailedFoundActiveJoiner:       "JoinFailedFoundActiveJoiner",
	SlotError:                         "SlotError",
	EventCacheExceeded:                "EventCacheExceeded",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error is an operation failure reported to the caller with its code.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Message
}

// Is matches any *Error with the same code, so errors.Is(err, ErrGameFull)
// holds regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Errorf builds an *Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code carried by err: Ok for nil, InternalServerError for
// errors that are not *Error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Ok
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalServerError
}

// Sentinels for errors.Is.
var (
	ErrInvalidOperation    = &Error{Code: InvalidOperation}
	ErrNotAllowed          = &Error{Code: OperationNotAllowedInCurrentState}
	ErrGameIDExists        = &Error{Code: GameIDAlreadyExists}
	ErrGameFull            = &Error{Code: GameFull}
	ErrGameClosed          = &Error{Code: GameClosed}
	ErrNoRandomMatch       = &Error{Code: NoRandomMatchFound}
	ErrGameDoesNotExist    = &Error{Code: GameDoesNotExist}
	ErrPeerAlreadyJoined   = &Error{Code: JoinFailedPeerAlreadyJoined}
	ErrInactiveJoiner      = &Error{Code: JoinFailedFoundInactiveJoiner}
	ErrRejoinerNotFound    = &Error{Code: JoinFailedWithRejoinerNotFound}
	ErrExcludedUser        = &Error{Code: JoinFailedFoundExcludedUserID}
	ErrActiveJoiner        = &Error{Code: JoinFailedFoundActiveJoiner}
	ErrSlot                = &Error{Code: SlotError}
	ErrEventCacheExceeded  = &Error{Code: EventCacheExceeded}
	ErrInvalidRequestParam = &Error{Code: InvalidRequestParameters}
)
