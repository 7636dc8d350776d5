package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// CustomError is an error with a message, key/value context and an optional
// wrapped cause.
type CustomError struct {
	message string
	args    map[string]interface{}
	wrapped error
}

// New creates a new CustomError instance.
func New(message string) *CustomError {
	return &CustomError{
		message: message,
		args:    make(map[string]interface{}),
	}
}

// Error implements the error interface.
func (e *CustomError) Error() string {
	return e.fullErrorString()
}

// Message returns the message without args or the wrapped error.
func (e *CustomError) Message() string {
	return e.message
}

// Arg adds an argument to the error.
func (e *CustomError) Arg(key string, value interface{}) *CustomError {
	e.args[key] = value
	return e
}

// Args returns a copy of the attached arguments.
func (e *CustomError) Args() map[string]interface{} {
	out := make(map[string]interface{}, len(e.args))
	for k, v := range e.args {
		out[k] = v
	}
	return out
}

// Wrap wraps another error (can be of the same type or a standard error).
func (e *CustomError) Wrap(err error) *CustomError {
	if err != nil {
		e.wrapped = err
	}
	return e
}

// Unwrap returns the wrapped error if any.
func (e *CustomError) Unwrap() error {
	return e.wrapped
}

// fullErrorString renders "{msg: <message>, args: <k=v ...>, wrappedError: {<cause>}}".
// Args are sorted by key so the output is stable for logs and tests.
func (e *CustomError) fullErrorString() string {
	var builder strings.Builder

	builder.WriteString("{msg: ")
	builder.WriteString(e.message)

	if len(e.args) > 0 {
		keys := make([]string, 0, len(e.args))
		for k := range e.args {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		builder.WriteString(", args: [")
		for i, k := range keys {
			if i > 0 {
				builder.WriteString(" ")
			}
			builder.WriteString(fmt.Sprintf("%s=%v", k, e.args[k]))
		}
		builder.WriteString("]")
	}

	if e.wrapped != nil {
		var wrappedErr *CustomError
		if errors.As(e.wrapped, &wrappedErr) && wrappedErr == e.wrapped {
			builder.WriteString(", wrappedError: ")
			builder.WriteString(wrappedErr.fullErrorString())
		} else {
			builder.WriteString(fmt.Sprintf(", wrappedError: {%v}", e.wrapped.Error()))
		}
	}

	builder.WriteString("}")

	return builder.String()
}
