package kverror

import (
	"errors"
	"fmt"
)

const (
	KV_UNEXPECTED          = "KVU"
	KV_CONFIGURATION_ERROR = "KVC"
	KV_NOT_FOUND           = "KVN"
	KV_CONFLICT            = "KVD"
	KV_WRITE_VERIFICATION  = "KVW"
	KV_RESOLUTION_ERROR    = "KVR"
	KV_VALIDATION_ERROR    = "KVV"
)

var existingErrorCodeMap = map[string]string{
	KV_UNEXPECTED:          "Unexpected error",
	KV_CONFIGURATION_ERROR: "ConfigurationError",
	KV_NOT_FOUND:           "NotFound",
	KV_CONFLICT:            "Conflict",
	KV_WRITE_VERIFICATION:  "WriteVerificationFailed",
	KV_RESOLUTION_ERROR:    "ResolutionError",
	KV_VALIDATION_ERROR:    "ValidationError",
}

func GetMessageByCode(errorCode string) string {
	rep, ok := existingErrorCodeMap[errorCode]
	if ok {
		return rep
	}
	return "Unexpected error"
}

var _ error = &KVError{}

type KVError struct {
	Err error

	ErrorCode string
}

func New(errorCode string, errorMsg string) *KVError {
	return &KVError{
		Err:       errors.New(errorMsg),
		ErrorCode: errorCode,
	}
}

func Newf(errorCode string, format string, a ...any) *KVError {
	return &KVError{
		Err:       fmt.Errorf(format, a...),
		ErrorCode: errorCode,
	}
}

func (er *KVError) Error() string {
	return er.Err.Error()
}

func (er *KVError) Unwrap() error {
	return er.Err
}

// Code returns the error code of err, or KV_UNEXPECTED for foreign errors.
func Code(err error) string {
	var kerr *KVError
	if errors.As(err, &kerr) {
		return kerr.ErrorCode
	}
	return KV_UNEXPECTED
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, errorCode string) bool {
	if err == nil {
		return false
	}
	var kerr *KVError
	if errors.As(err, &kerr) {
		return kerr.ErrorCode == errorCode
	}
	return false
}

func IsNotFound(err error) bool {
	return Is(err, KV_NOT_FOUND)
}

func IsConflict(err error) bool {
	return Is(err, KV_CONFLICT)
}

// Expected reports whether err is an outcome callers handle routinely,
// as opposed to a bug or infrastructure fault.
func Expected(err error) bool {
	switch Code(err) {
	case KV_NOT_FOUND, KV_CONFLICT, KV_VALIDATION_ERROR:
		return true
	default:
		return false
	}
}
