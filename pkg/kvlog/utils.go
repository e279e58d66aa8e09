package kvlog

import (
	"io"
	"os"
	"reflect"
)

// GetPointer returns the memory address of the given value as an unsigned integer.
// It is used to tell store handles apart in debug output.
func GetPointer(value any) uint {
	ptr := reflect.ValueOf(value).Pointer()
	return uint(uintptr(ptr))
}

// newWriter opens filepath in append mode, creating it if needed.
// An empty filepath means os.Stdout.
func newWriter(filepath string) (*os.File, io.Writer, error) {
	if filepath == "" {
		return nil, os.Stdout, nil
	}
	f, err := os.OpenFile(filepath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}
