// Package errors provides the typed errors of recordbridge.
//
// An *Error has a category (ErrorType), a message, an optional cause and the
// frames of the call that created it. Conversion code attaches the field path
// of the offending value with At, so a skipped record can be logged with the
// exact field that broke it. Schema errors mean a type cannot be expressed in
// a target type system; conversion errors mean a value does not fit its
// declared type.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType is the category of an error
type ErrorType string

const (
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeConfig     ErrorType = "config"
	// ErrorTypeData is a record that could not be read or written
	ErrorTypeData ErrorType = "data"
	// ErrorTypeCapability is a feature a format or connector does not have
	ErrorTypeCapability ErrorType = "capability"
	// ErrorTypeFile covers local files and object store objects
	ErrorTypeFile  ErrorType = "file"
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeSchema is a schema that cannot be parsed or mapped
	ErrorTypeSchema ErrorType = "schema"
	// ErrorTypeConversion is a value that does not fit its declared type
	ErrorTypeConversion ErrorType = "conversion"
)

// transient types fail differently on the next attempt
var transient = map[ErrorType]bool{
	ErrorTypeTimeout:    true,
	ErrorTypeConnection: true,
}

// Error is a categorized error
type Error struct {
	Type    ErrorType
	Message string
	// Path locates the offending value inside a record, "$" for the root
	Path    string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is one frame of the creating call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

func (f StackFrame) String() string {
	return fmt.Sprintf("%s (%s:%d)", f.Function, f.File, f.Line)
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// At records the field path of the value the error is about
func (e *Error) At(path string) *Error {
	e.Path = path
	return e
}

// WithDetail attaches a key-value pair for logs
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// New returns an error of type t
func New(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message, Stack: callers(3)}
}

// Newf is New with a format string
func Newf(t ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), Stack: callers(3)}
}

// Wrap returns nil for a nil err. A wrapped *Error lends the new one its
// stack and path, so both keep pointing at where the problem started.
func Wrap(err error, t ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	return wrap(err, t, message)
}

// Wrapf is Wrap with a format string
func Wrapf(err error, t ErrorType, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return wrap(err, t, fmt.Sprintf(format, args...))
}

func wrap(err error, t ErrorType, message string) *Error {
	out := &Error{Type: t, Message: message, Cause: err}
	var inner *Error
	if errors.As(err, &inner) {
		out.Stack = inner.Stack
		out.Path = inner.Path
	} else {
		out.Stack = callers(4)
	}
	return out
}

// IsRetryable reports whether the outermost *Error in err is transient
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && transient[e.Type]
}

// IsType reports whether any *Error in err's chain has type t
func IsType(err error, t ErrorType) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Type == t {
			return true
		}
		err = e.Cause
	}
	return false
}

// TypeOf returns the type of the outermost *Error in err, ErrorTypeInternal
// for foreign errors
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// PathOf returns the field path carried by err, or "" when no error in the
// chain names one
func PathOf(err error) string {
	var e *Error
	for errors.As(err, &e) {
		if e.Path != "" {
			return e.Path
		}
		err = e.Cause
	}
	return ""
}

var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

func callers(skip int) []StackFrame {
	var pcs [32]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]StackFrame, 0, n)
	for {
		f, more := frames.Next()
		stack = append(stack, StackFrame{Function: f.Function, File: f.File, Line: f.Line})
		if !more {
			break
		}
	}
	return stack
}
