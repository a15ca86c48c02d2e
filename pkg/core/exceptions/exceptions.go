/*
 *	Copyright 2025 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package exceptions defines the error taxonomy used across Tapestry and the panic/recover
// plumbing to move between the two error-reporting styles used in the library:
//
//   - Graph-building and configuration code panics on invalid values -- the panic value is
//     always an `error` with an attached stack trace (see github.com/gomlx/exceptions).
//   - Long-running operations (Model.Fit, Model.Save, ...) return an `error`; panics raised
//     underneath them are recovered with Call and converted to returned errors.
//
// Three error kinds exist, mirroring the distinction between "you passed a bad value"
// (ValueError), "the object reached an unusable state" (RuntimeError) and "a subclass was
// supposed to override this" (NotImplementedError). Use the Is* predicates to test for them,
// they see through wrapping.
package exceptions

import (
	stderrors "errors"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// ValueError indicates an invalid argument or configuration value: a bad shape, a dtype
// mismatch, an unknown identifier. It is raised before any state is mutated.
type ValueError struct {
	err error
}

// Error implements the error interface.
func (e *ValueError) Error() string { return e.err.Error() }

// Unwrap returns the underlying error, with its stack trace.
func (e *ValueError) Unwrap() error { return e.err }

// RuntimeError indicates an operation failed because of the state of the objects involved:
// a disconnected graph, a finalized tensor being read, an abstract method not overridden by
// a concrete layer.
type RuntimeError struct {
	err error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string { return e.err.Error() }

// Unwrap returns the underlying error, with its stack trace.
func (e *RuntimeError) Unwrap() error { return e.err }

// NotImplementedError indicates a method that a concrete implementation was required to
// provide but did not.
type NotImplementedError struct {
	err error
}

// Error implements the error interface.
func (e *NotImplementedError) Error() string { return e.err.Error() }

// Unwrap returns the underlying error, with its stack trace.
func (e *NotImplementedError) Unwrap() error { return e.err }

// Valuef creates a ValueError with a formatted message and a stack trace.
func Valuef(format string, args ...any) error {
	return &ValueError{err: errors.Errorf(format, args...)}
}

// Runtimef creates a RuntimeError with a formatted message and a stack trace.
func Runtimef(format string, args ...any) error {
	return &RuntimeError{err: errors.Errorf(format, args...)}
}

// NotImplementedf creates a NotImplementedError with a formatted message and a stack trace.
func NotImplementedf(format string, args ...any) error {
	return &NotImplementedError{err: errors.Errorf(format, args...)}
}

// PanicValuef panics with a ValueError. The panic value is an error and can be recovered
// with Call.
func PanicValuef(format string, args ...any) {
	panic(Valuef(format, args...))
}

// PanicRuntimef panics with a RuntimeError.
func PanicRuntimef(format string, args ...any) {
	panic(Runtimef(format, args...))
}

// PanicNotImplementedf panics with a NotImplementedError.
func PanicNotImplementedf(format string, args ...any) {
	panic(NotImplementedf(format, args...))
}

// IsValueError checks whether err is (or wraps) a ValueError.
func IsValueError(err error) bool {
	var target *ValueError
	return stderrors.As(err, &target)
}

// IsRuntimeError checks whether err is (or wraps) a RuntimeError.
func IsRuntimeError(err error) bool {
	var target *RuntimeError
	return stderrors.As(err, &target)
}

// IsNotImplementedError checks whether err is (or wraps) a NotImplementedError.
func IsNotImplementedError(err error) bool {
	var target *NotImplementedError
	return stderrors.As(err, &target)
}

// Call runs fn and converts any panic carrying an error (the convention everywhere in this
// library) to a returned error. Panics with non-error values are re-raised.
func Call(fn func()) error {
	return exceptions.TryCatch[error](fn)
}
