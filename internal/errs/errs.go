package errs

import (
	"errors"
	"fmt"
)

type Code string

const (
	UpstreamFetchFailure  Code = "UPSTREAM_FETCH_FAILURE"
	MalformedUpstreamData Code = "MALFORMED_UPSTREAM_DATA"
	InvalidClientToken    Code = "INVALID_CLIENT_TOKEN"
	UnroutablePath        Code = "UNROUTABLE_PATH"

	InvalidFlagCombination Code = "INVALID_FLAG_COMBINATION"
)

var messages = map[Code]string{
	UpstreamFetchFailure:  "upstream unreachable",
	MalformedUpstreamData: "upstream returned data in an unexpected shape",
	InvalidClientToken:    "Invalid image URL",
	UnroutablePath:        "Not Found",

	InvalidFlagCombination: "Invalid flag combination: %s",
}

// Error carries a taxonomy code alongside the underlying cause.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return Msg(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, format string, a ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, a...)}
}

func Wrap(code Code, err error, msg string) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// Is reports whether any error in err's chain carries code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

func Msg(code Code, a ...any) string {
	msg := messages[code]
	if msg == "" {
		msg = string(code)
	}
	if len(a) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, a...)
}
