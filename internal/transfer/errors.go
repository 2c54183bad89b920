package transfer

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout        = errors.New("timeout")
	ErrServerRejected = errors.New("server rejected upload")
	ErrCancelled      = errors.New("upload cancelled")
	ErrNetwork        = errors.New("network error")
	ErrNotJoined      = errors.New("not in a room")
)

type TransferError struct {
	Op      string
	File    string
	Err     error
	Details string
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Err)
	if e.File != "" {
		msg = fmt.Sprintf("%s %s: %v", e.Op, e.File, e.Err)
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *TransferError {
	return &TransferError{Op: op, Err: err}
}

func NewFileError(op, file string, err error) *TransferError {
	return &TransferError{Op: op, File: file, Err: err}
}

func WrapError(op string, err error, details string) *TransferError {
	return &TransferError{Op: op, Err: err, Details: details}
}
