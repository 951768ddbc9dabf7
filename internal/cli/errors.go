package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/inzamrzn918/checkerq-sub000/internal/app"
	"github.com/inzamrzn918/checkerq-sub000/internal/config"
	"github.com/inzamrzn918/checkerq-sub000/internal/crypto"
	"github.com/inzamrzn918/checkerq-sub000/internal/settings"
	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
)

const (
	ExitCodeSuccess        = 0
	ExitCodeGeneric        = 1
	ExitCodeUsage          = 2
	ExitCodeNotFound       = 3
	ExitCodeInvalid        = 4
	ExitCodePartialRestore = 5
	ExitCodeIO             = 7
)

type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ExitError) ExitCode() int {
	if e == nil {
		return ExitCodeGeneric
	}
	return e.Code
}

func asExitError(code int, err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}
	return &ExitError{Code: code, Err: err}
}

func mapCommandError(err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}

	var partial *app.PartialRestoreError
	if errors.As(err, &partial) {
		return asExitError(ExitCodePartialRestore, err)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return asExitError(ExitCodeNotFound, err)
	}
	if errors.Is(err, app.ErrValidation) ||
		errors.Is(err, app.ErrInvalidSnapshot) ||
		errors.Is(err, config.ErrInvalidConfig) ||
		errors.Is(err, settings.ErrInvalidPreferences) ||
		errors.Is(err, crypto.ErrAuthenticationFailed) ||
		errors.Is(err, crypto.ErrInvalidArgon2Params) {
		return asExitError(ExitCodeInvalid, err)
	}

	var pathErr *fs.PathError
	var schemaErr *storage.SchemaError
	if errors.As(err, &pathErr) || errors.Is(err, os.ErrNotExist) || errors.As(err, &schemaErr) {
		return asExitError(ExitCodeIO, err)
	}

	return asExitError(ExitCodeGeneric, err)
}

func usageErrorf(format string, args ...any) error {
	return &ExitError{
		Code: ExitCodeUsage,
		Err:  fmt.Errorf(format, args...),
	}
}
