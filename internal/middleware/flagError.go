package middleware

import (
	"errors"

	"github.com/MrSnakeDoc/wxproxy/internal/errs"
	"github.com/MrSnakeDoc/wxproxy/internal/logger"
)

// ErrLogged is returned once the failure has already been reported to the
// user; main exits non-zero without printing it again.
var ErrLogged = errors.New("already logged")

// FlagComboError logs the catalogue message for code and returns ErrLogged.
func FlagComboError(code errs.Code, a ...any) error {
	msg := errs.Msg(code, a...)
	logger.LogError("%s", msg)
	return ErrLogged
}
