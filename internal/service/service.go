// Package service defines the minimal contracts a service implementation must
// satisfy to be hosted by the binder core. Registry, lifecycle and dispatch
// all depend on these types rather than each other.
package service

import (
	"context"
	"fmt"
)

// Implementation handles transactions for one bound service. Invoke is called
// with arguments already decoded per the method signature and returns the
// value to encode as the reply. It runs synchronously on a dispatch worker.
type Implementation interface {
	Invoke(ctx context.Context, method uint32, args []any) (any, error)
}

// Instance is a lazily-started implementation that owns resources and must
// release them on shutdown before its registration is removed.
type Instance interface {
	Implementation
	Shutdown(ctx context.Context) error
}

// Factory starts the backing implementation of a lazy service. It is invoked
// at most once per start attempt; returning an error fails the start.
type Factory func(ctx context.Context) (Instance, error)

// Func adapts a plain function into an Implementation.
type Func func(ctx context.Context, method uint32, args []any) (any, error)

// Invoke implements Implementation.
func (f Func) Invoke(ctx context.Context, method uint32, args []any) (any, error) {
	return f(ctx, method, args)
}

// Error is a business-logic failure reported by an implementation. The
// dispatcher returns it to the caller without tearing down the service.
type Error struct {
	Code    int32
	Message string
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("service error %d: %s", e.Code, e.Message)
}

// Errorf constructs a service error with a formatted message.
func Errorf(code int32, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
